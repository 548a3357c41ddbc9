// Public form HTTP handlers.
//
// This file exposes the respondent-facing endpoints:
//   - GET  /forms/{id}            (rendered fields of an active form)
//   - POST /forms/{id}/validate   (check answers without storing)
//   - POST /forms/{id}/responses  (submit; JSON or multipart with files)
//
// Answers travel as discriminated JSON keyed by step id, e.g.
//
//	{"answers": {"<step_id>": {"type": "text", "value": "Ada"}}}
//
// Multipart submissions carry the same document in the "payload" part and
// one "file_<step_id>" part per uploaded file.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/http/middleware"
	"github.com/tbourn/go-forms-backend/internal/services"
)

const (
	payloadPart    = "payload"
	filePartPrefix = "file_"
	// multipartMemory is kept in memory before parts spill to temp files.
	multipartMemory = 8 << 20
)

// MsgFixFields is the summary shown with a 422 validation response.
const MsgFixFields = "Please fix the highlighted fields."

//
// DTOs
//

// AnswersRequest carries answers keyed by step id.
type AnswersRequest struct {
	Answers map[string]json.RawMessage `json:"answers" swaggertype:"object"`
}

// FormResponse is a public form ready to render.
type FormResponse struct {
	ID          string          `json:"id" example:"0c7c1a55-1b1e-4b1c-8a55-9f2f3c7f4f10"`
	Name        string          `json:"name" example:"Kitchen Quote"`
	Description string          `json:"description,omitempty"`
	Fields      []form.Rendered `json:"fields"`
}

// ValidateResponse is returned when every answer is valid.
type ValidateResponse struct {
	Valid bool `json:"valid" example:"true"`
}

// SubmissionResponse identifies the stored response.
type SubmissionResponse struct {
	ResponseID string `json:"response_id" example:"3fa85f64-5717-4562-b3fc-2c963f66afa6"`
	Replayed   bool   `json:"replayed" example:"false"`
}

// GetForm godoc
// @ID          getForm
// @Summary     Get a form
// @Description Returns the fields of an active form in position order.
// @Tags        Forms
// @Produce     json
// @Param       id   path     string true "Form ID"
// @Success     200  {object} handlers.FormResponse
// @Failure     404  {object} handlers.ErrorResponse "Form not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /forms/{id} [get]
func (h *Handlers) GetForm(c *gin.Context) {
	view, err := h.forms.Describe(c.Request.Context(), c.Param("id"))
	if err != nil {
		failForm(c, err)
		return
	}
	c.Set(middleware.ClientIDKey, view.Form.ClientID)
	ok(c, http.StatusOK, FormResponse{
		ID:          view.Form.ID,
		Name:        view.Form.Name,
		Description: view.Form.Description,
		Fields:      view.Fields,
	})
}

// ValidateAnswers godoc
// @ID          validateAnswers
// @Summary     Validate answers
// @Description Checks answers against the form without storing anything.
// @Tags        Forms
// @Accept      json
// @Produce     json
// @Param       id    path     string                   true "Form ID"
// @Param       body  body     handlers.AnswersRequest  true "Answers keyed by step id"
// @Success     200   {object} handlers.ValidateResponse
// @Failure     400   {object} handlers.ErrorResponse "Malformed answers"
// @Failure     404   {object} handlers.ErrorResponse "Form not found"
// @Failure     422   {object} handlers.ValidationErrorResponse "Invalid answers"
// @Router      /forms/{id}/validate [post]
func (h *Handlers) ValidateAnswers(c *gin.Context) {
	var req AnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBody(c, err)
		return
	}
	answers, err := decodeAnswers(req.Answers)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidAnswer, err.Error())
		return
	}
	if err := h.forms.Validate(c.Request.Context(), c.Param("id"), answers); err != nil {
		failForm(c, err)
		return
	}
	ok(c, http.StatusOK, ValidateResponse{Valid: true})
}

// SubmitResponse godoc
// @ID          submitResponse
// @Summary     Submit a response
// @Description Validates and stores a response, uploads attached files and queues
// @Description webhook and email notifications. Send the same Idempotency-Key to
// @Description safely retry; a replay answers 200 with Idempotency-Replayed: true.
// @Tags        Forms
// @Accept      json
// @Accept      mpfd
// @Produce     json
// @Param       id               path     string                  true  "Form ID"
// @Param       Idempotency-Key  header   string                  false "Idempotency key"
// @Param       body             body     handlers.AnswersRequest false "Answers (JSON requests)"
// @Param       payload          formData string                  false "Answers document (multipart requests)"
// @Success     201  {object} handlers.SubmissionResponse
// @Success     200  {object} handlers.SubmissionResponse "Idempotent replay"
// @Failure     400  {object} handlers.ErrorResponse "Malformed request"
// @Failure     404  {object} handlers.ErrorResponse "Form not found"
// @Failure     413  {object} handlers.ErrorResponse "Request too large"
// @Failure     422  {object} handlers.ValidationErrorResponse "Invalid answers"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Submission failed"
// @Router      /forms/{id}/responses [post]
func (h *Handlers) SubmitResponse(c *gin.Context) {
	req := services.SubmitRequest{FormID: c.Param("id")}
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		req.IdempotencyKey = key
	}

	var (
		raw map[string]json.RawMessage
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		raw, req.Files, err = readMultipart(c)
	} else {
		var body AnswersRequest
		err = c.ShouldBindJSON(&body)
		raw = body.Answers
	}
	if err != nil {
		failBody(c, err)
		return
	}
	if req.Answers, err = decodeAnswers(raw); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidAnswer, err.Error())
		return
	}

	res, err := h.forms.Submit(c.Request.Context(), req)
	if err != nil {
		failForm(c, err)
		return
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, SubmissionResponse{ResponseID: res.ResponseID, Replayed: true})
		return
	}
	ok(c, http.StatusCreated, SubmissionResponse{ResponseID: res.ResponseID})
}

// readMultipart returns the answers of the payload part and the files keyed
// by step id.
func readMultipart(c *gin.Context) (map[string]json.RawMessage, map[string]*form.PendingFile, error) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, err
	}
	mf := c.Request.MultipartForm

	var body AnswersRequest
	if vals := mf.Value[payloadPart]; len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
		if err := json.Unmarshal([]byte(vals[0]), &body); err != nil {
			return nil, nil, fmt.Errorf("payload: %w", err)
		}
	}

	files := make(map[string]*form.PendingFile, len(mf.File))
	for name, headers := range mf.File {
		stepID, found := strings.CutPrefix(name, filePartPrefix)
		if !found || stepID == "" || len(headers) == 0 {
			continue
		}
		files[stepID] = pendingFile(headers[0])
	}
	return body.Answers, files, nil
}

func pendingFile(fh *multipart.FileHeader) *form.PendingFile {
	return &form.PendingFile{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open:        func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// decodeAnswers parses each discriminated answer; the error names the step.
func decodeAnswers(raw map[string]json.RawMessage) (map[string]form.Answer, error) {
	out := make(map[string]form.Answer, len(raw))
	for stepID, msg := range raw {
		a, err := form.DecodeAnswer(msg)
		if err != nil {
			return nil, fmt.Errorf("answer for step %s: %w", stepID, err)
		}
		out[stepID] = a
	}
	return out, nil
}

// failBody maps body read errors: oversized bodies get 413, the rest 400.
func failBody(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
		return
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
}

// failForm maps submission service errors onto the error envelopes.
func failForm(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ValidationErrorResponse{
			RequestID:    requestID(c),
			Code:         ErrCodeValidationFailed,
			Message:      MsgFixFields,
			Errors:       verr.ByStep(),
			FirstInvalid: verr.StepIDs[verr.FirstInvalid],
		})
	case errors.Is(err, services.ErrFormNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "form not found")
	case errors.Is(err, services.ErrSubmissionFailed):
		fail(c, http.StatusInternalServerError, ErrCodeSubmissionFailed, services.MsgSubmissionFailed)
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, services.MsgSubmissionFailed)
	}
}

// Operator HTTP handlers.
//
// These routes sit behind the admin bearer token and let operators inspect
// the notification queue, trigger delivery passes, resend a response's
// email, remove responses and manage Zapier API keys.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/http/middleware"
	"github.com/tbourn/go-forms-backend/internal/services"
	"github.com/tbourn/go-forms-backend/internal/utils"
)

// IssueKeyRequest names a new API key.
type IssueKeyRequest struct {
	Name string `json:"name" binding:"max=255" example:"Zapier production"`
}

// IssueKeyResponse carries the raw key. It is shown exactly once.
type IssueKeyResponse struct {
	Key    string        `json:"key" example:"dk_live_0123456789abcdef0123456789abcdef"`
	Record domain.APIKey `json:"record"`
}

// Pagination echoes the page window of a listing.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// WebhookJobsResponse lists webhook jobs.
type WebhookJobsResponse struct {
	Jobs       []domain.WebhookNotification `json:"jobs"`
	Pagination Pagination                   `json:"pagination"`
}

// EmailJobsResponse lists email jobs.
type EmailJobsResponse struct {
	Jobs       []domain.EmailNotification `json:"jobs"`
	Pagination Pagination                 `json:"pagination"`
}

// IssuesResponse lists open submission issues.
type IssuesResponse struct {
	Issues []domain.SubmissionIssue `json:"issues"`
}

// SendEmailResponse reports a manual email send.
type SendEmailResponse struct {
	ResponseID string `json:"response_id"`
	Status     string `json:"status" example:"sent"`
}

func jobQuery(c *gin.Context) services.JobQuery {
	return services.JobQuery{
		Status:     strings.ToLower(strings.TrimSpace(c.Query("status"))),
		ResponseID: strings.TrimSpace(c.Query("response_id")),
		Page:       utils.Clamp(utils.AtoiDefault(c.Query("page"), 1), 1, utils.MaxPage),
		PageSize:   utils.Clamp(utils.AtoiDefault(c.Query("page_size"), services.DefaultJobPageSize), 1, services.MaxJobPageSize),
	}
}

// ListWebhookJobs godoc
// @ID          adminListWebhookJobs
// @Summary     List webhook jobs
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       status       query  string false "pending, processing, sent or failed"
// @Param       response_id  query  string false "Response ID"
// @Param       page         query  int    false "Page number" minimum(1) default(1)
// @Param       page_size    query  int    false "Items per page" minimum(1) maximum(200) default(50)
// @Success     200  {object} handlers.WebhookJobsResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid status"
// @Failure     401  {object} handlers.ErrorResponse "Missing or wrong token"
// @Router      /admin/jobs/webhooks [get]
func (h *Handlers) ListWebhookJobs(c *gin.Context) {
	q := jobQuery(c)
	jobs, err := h.admin.WebhookJobs(c.Request.Context(), q)
	if err != nil {
		failAdmin(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookJobsResponse{Jobs: jobs, Pagination: Pagination{Page: q.Page, PageSize: q.PageSize}})
}

// ListEmailJobs godoc
// @ID          adminListEmailJobs
// @Summary     List email jobs
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       status       query  string false "pending, processing, sent or failed"
// @Param       response_id  query  string false "Response ID"
// @Param       page         query  int    false "Page number" minimum(1) default(1)
// @Param       page_size    query  int    false "Items per page" minimum(1) maximum(200) default(50)
// @Success     200  {object} handlers.EmailJobsResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid status"
// @Failure     401  {object} handlers.ErrorResponse "Missing or wrong token"
// @Router      /admin/jobs/emails [get]
func (h *Handlers) ListEmailJobs(c *gin.Context) {
	q := jobQuery(c)
	jobs, err := h.admin.EmailJobs(c.Request.Context(), q)
	if err != nil {
		failAdmin(c, err)
		return
	}
	ok(c, http.StatusOK, EmailJobsResponse{Jobs: jobs, Pagination: Pagination{Page: q.Page, PageSize: q.PageSize}})
}

// QueueStats godoc
// @ID          adminQueueStats
// @Summary     Queue statistics
// @Description Job counts per channel and status.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Success     200  {object} repo.QueueStats
// @Router      /admin/stats [get]
func (h *Handlers) QueueStats(c *gin.Context) {
	st, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		failAdmin(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// RunDispatcher godoc
// @ID          adminRunDispatcher
// @Summary     Run a dispatcher pass
// @Description Backfills missing jobs, then drains the webhook and email queues once.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Success     200  {object} worker.Report
// @Failure     500  {object} handlers.ErrorResponse "A stage failed"
// @Router      /admin/run [post]
func (h *Handlers) RunDispatcher(c *gin.Context) {
	if h.dispatcher == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "dispatcher not configured")
		return
	}
	rep, err := h.dispatcher.RunOnce(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeDeliveryFailed, "dispatcher pass failed")
		return
	}
	ok(c, http.StatusOK, rep)
}

// RunWebhooks godoc
// @ID          adminRunWebhooks
// @Summary     Process pending webhooks
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Success     200  {object} services.DeliveryReport
// @Router      /admin/run/webhooks [post]
func (h *Handlers) RunWebhooks(c *gin.Context) { h.runQueue(c, h.webhooks) }

// RunEmails godoc
// @ID          adminRunEmails
// @Summary     Process pending emails
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Success     200  {object} services.DeliveryReport
// @Router      /admin/run/emails [post]
func (h *Handlers) RunEmails(c *gin.Context) { h.runQueue(c, h.emails) }

func (h *Handlers) runQueue(c *gin.Context, q Queue) {
	if q == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "queue not configured")
		return
	}
	rep, err := q.ProcessPending(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeDeliveryFailed, "delivery pass failed")
		return
	}
	ok(c, http.StatusOK, rep)
}

// GetResponse godoc
// @ID          adminGetResponse
// @Summary     Get a response
// @Description Returns the canonical payload, as sent to webhooks.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path     string true "Response ID"
// @Success     200  {object} services.ResponsePayload
// @Failure     404  {object} handlers.ErrorResponse "Response not found"
// @Router      /admin/responses/{id} [get]
func (h *Handlers) GetResponse(c *gin.Context) {
	p, err := h.admin.Response(c.Request.Context(), c.Param("id"))
	if err != nil {
		failAdmin(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteResponse godoc
// @ID          adminDeleteResponse
// @Summary     Delete a response
// @Description Removes the response with its answers, notification jobs and issues.
// @Tags        Admin
// @Security    AdminToken
// @Param       id   path  string true "Response ID"
// @Success     204
// @Failure     404  {object} handlers.ErrorResponse "Response not found"
// @Router      /admin/responses/{id} [delete]
func (h *Handlers) DeleteResponse(c *gin.Context) {
	if err := h.admin.DeleteResponse(c.Request.Context(), c.Param("id")); err != nil {
		failAdmin(c, err)
		return
	}
	noContent(c)
}

// SendResponseEmail godoc
// @ID          adminSendResponseEmail
// @Summary     Send a response's email now
// @Description Claims the pending email job of the response and sends it immediately.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path     string true "Response ID"
// @Success     200  {object} handlers.SendEmailResponse
// @Failure     404  {object} handlers.ErrorResponse "Response not found"
// @Failure     409  {object} handlers.ErrorResponse "No pending email, or notifications not deliverable"
// @Failure     502  {object} handlers.ErrorResponse "Provider rejected the message"
// @Router      /admin/responses/{id}/email [post]
func (h *Handlers) SendResponseEmail(c *gin.Context) {
	id := c.Param("id")
	err := h.email.SendFor(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, http.StatusOK, SendEmailResponse{ResponseID: id, Status: domain.StatusSent})
	case errors.Is(err, services.ErrResponseNotFound), errors.Is(err, services.ErrFormNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNoPendingEmail),
		errors.Is(err, services.ErrNoRecipients),
		errors.Is(err, services.ErrNotificationsDisabled):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, "email provider rejected the message")
	}
}

// ListIssues godoc
// @ID          adminListIssues
// @Summary     Open submission issues
// @Description Partial submission failures (for example failed uploads) awaiting review.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       limit  query    int false "Max items" minimum(1) maximum(200) default(50)
// @Success     200    {object} handlers.IssuesResponse
// @Router      /admin/issues [get]
func (h *Handlers) ListIssues(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultJobPageSize)
	issues, err := h.admin.OpenIssues(c.Request.Context(), limit)
	if err != nil {
		failAdmin(c, err)
		return
	}
	ok(c, http.StatusOK, IssuesResponse{Issues: issues})
}

// IssueAPIKey godoc
// @ID          adminIssueAPIKey
// @Summary     Issue a Zapier API key
// @Description Creates a key for the client. The raw key is returned once and never stored.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       id    path     string                    true  "Client ID"
// @Param       body  body     handlers.IssueKeyRequest  false "Key name"
// @Success     201   {object} handlers.IssueKeyResponse
// @Failure     404   {object} handlers.ErrorResponse "Client not found"
// @Router      /admin/clients/{id}/api-keys [post]
func (h *Handlers) IssueAPIKey(c *gin.Context) {
	var req IssueKeyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
	}
	clientID := c.Param("id")
	c.Set(middleware.ClientIDKey, clientID)
	issued, err := h.keys.Issue(c.Request.Context(), clientID, strings.TrimSpace(req.Name))
	if err != nil {
		failAdmin(c, err)
		return
	}
	ok(c, http.StatusCreated, IssueKeyResponse{Key: issued.Key, Record: *issued.Record})
}

// RevokeAPIKey godoc
// @ID          adminRevokeAPIKey
// @Summary     Revoke a Zapier API key
// @Tags        Admin
// @Security    AdminToken
// @Param       key_id  path  string true "API key ID"
// @Success     204
// @Failure     404  {object} handlers.ErrorResponse "Key not found"
// @Router      /admin/api-keys/{key_id} [delete]
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	if err := h.keys.Revoke(c.Request.Context(), c.Param("key_id")); err != nil {
		failAdmin(c, err)
		return
	}
	noContent(c)
}

func failAdmin(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrResponseNotFound),
		errors.Is(err, services.ErrFormNotFound),
		errors.Is(err, services.ErrClientNotFound),
		errors.Is(err, services.ErrInvalidAPIKey):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "operation failed")
	}
}

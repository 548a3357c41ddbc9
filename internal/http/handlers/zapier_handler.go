// Zapier HTTP handlers.
//
// These endpoints follow Zapier's REST hook contract and authenticate with a
// client API key ("dk_live_" + 32 hex chars) sent as the api_key query
// parameter, the api_key body member, or the X-API-Key header.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-forms-backend/internal/services"
	"github.com/tbourn/go-forms-backend/internal/utils"
)

// SubscriptionRequest is the body of subscribe and unsubscribe calls.
type SubscriptionRequest struct {
	TargetURL string `json:"target_url" binding:"required" example:"https://hooks.zapier.com/hooks/standard/123/abc"`
	FormID    string `json:"form_id"    binding:"required" example:"0c7c1a55-1b1e-4b1c-8a55-9f2f3c7f4f10"`
	APIKey    string `json:"api_key"                       example:"dk_live_0123456789abcdef0123456789abcdef"`
}

// SubscriptionResponse describes a created subscription.
type SubscriptionResponse struct {
	ID        string `json:"id"`
	FormID    string `json:"form_id"`
	TargetURL string `json:"target_url"`
}

// ListFormsResponse lists the forms of the key's client.
type ListFormsResponse struct {
	Forms []services.FormSummary `json:"forms"`
}

func (r SubscriptionRequest) key(c *gin.Context) string {
	if k := strings.TrimSpace(r.APIKey); k != "" {
		return k
	}
	return apiKey(c)
}

// Subscribe godoc
// @ID          zapierSubscribe
// @Summary     Subscribe a REST hook
// @Description Registers target_url to receive every new response of form_id.
// @Tags        Zapier
// @Accept      json
// @Produce     json
// @Param       body  body     handlers.SubscriptionRequest true "Subscription"
// @Success     201   {object} handlers.SubscriptionResponse
// @Failure     400   {object} handlers.ErrorResponse "Bad request"
// @Failure     401   {object} handlers.ErrorResponse "Invalid API key"
// @Failure     403   {object} handlers.ErrorResponse "Form belongs to another client"
// @Failure     409   {object} handlers.ErrorResponse "Already subscribed"
// @Router      /api/webhooks/subscribe [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "target_url and form_id are required")
		return
	}
	sub, err := h.zapier.Subscribe(c.Request.Context(), req.key(c), req.FormID, req.TargetURL)
	if err != nil {
		failZapier(c, err)
		return
	}
	ok(c, http.StatusCreated, SubscriptionResponse{ID: sub.ID, FormID: sub.FormID, TargetURL: sub.TargetURL})
}

// Unsubscribe godoc
// @ID          zapierUnsubscribe
// @Summary     Remove a REST hook
// @Tags        Zapier
// @Accept      json
// @Param       body  body  handlers.SubscriptionRequest true "Subscription"
// @Success     204
// @Failure     400   {object} handlers.ErrorResponse "Bad request"
// @Failure     401   {object} handlers.ErrorResponse "Invalid API key"
// @Failure     403   {object} handlers.ErrorResponse "Form belongs to another client"
// @Failure     404   {object} handlers.ErrorResponse "Subscription not found"
// @Router      /api/webhooks/unsubscribe [delete]
func (h *Handlers) Unsubscribe(c *gin.Context) {
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "target_url and form_id are required")
		return
	}
	if err := h.zapier.Unsubscribe(c.Request.Context(), req.key(c), req.FormID, req.TargetURL); err != nil {
		failZapier(c, err)
		return
	}
	noContent(c)
}

// ListForms godoc
// @ID          zapierListForms
// @Summary     List forms
// @Description Returns the forms owned by the API key's client (Zapier dropdown).
// @Tags        Zapier
// @Produce     json
// @Param       api_key  query    string true "API key"
// @Success     200      {object} handlers.ListFormsResponse
// @Failure     401      {object} handlers.ErrorResponse "Invalid API key"
// @Router      /api/forms [get]
func (h *Handlers) ListForms(c *gin.Context) {
	forms, err := h.zapier.ListForms(c.Request.Context(), apiKey(c))
	if err != nil {
		failZapier(c, err)
		return
	}
	ok(c, http.StatusOK, ListFormsResponse{Forms: forms})
}

// RecentResponses godoc
// @ID          zapierRecentResponses
// @Summary     Recent responses
// @Description Returns the newest responses of a form as webhook payloads, for
// @Description Zapier's polling fallback and sample data.
// @Tags        Zapier
// @Produce     json
// @Param       id       path   string true  "Form ID"
// @Param       api_key  query  string true  "API key"
// @Param       limit    query  int    false "Max items" minimum(1) maximum(100) default(10)
// @Success     200      {array}  services.ResponsePayload
// @Failure     401      {object} handlers.ErrorResponse "Invalid API key"
// @Failure     403      {object} handlers.ErrorResponse "Form belongs to another client"
// @Router      /api/forms/{id}/responses/recent [get]
func (h *Handlers) RecentResponses(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultRecentLimit)
	items, err := h.zapier.RecentResponses(c.Request.Context(), apiKey(c), c.Param("id"), limit)
	if err != nil {
		failZapier(c, err)
		return
	}
	// Zapier expects a bare array.
	ok(c, http.StatusOK, items)
}

func failZapier(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAPIKey):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidAPIKey, "invalid api key")
	case errors.Is(err, services.ErrFormForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidTargetURL):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTarget, err.Error())
	case errors.Is(err, services.ErrSubscriptionExists):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrSubscriptionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrFormNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "form not found")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

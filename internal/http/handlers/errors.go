// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status semantics;
// the domain codes below them describe failures that the status alone cannot
// convey. Clients branch on the code, never on the message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"

	// Domain-specific:
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeSubmissionFailed = "submission_failed"
	ErrCodeInvalidAnswer    = "invalid_answer"
	ErrCodeInvalidAPIKey    = "invalid_api_key"
	ErrCodeInvalidTarget    = "invalid_target_url"
	ErrCodeDeliveryFailed   = "delivery_failed"
	ErrCodeListFailed       = "list_failed"
)

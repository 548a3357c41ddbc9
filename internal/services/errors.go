// Package services defines the business logic for submissions, notification
// delivery and the Zapier integration. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"
)

// Form and response errors.
var (
	// ErrFormNotFound indicates that the form does not exist or is inactive.
	ErrFormNotFound = errors.New("form not found")

	// ErrResponseNotFound indicates that the response does not exist.
	ErrResponseNotFound = errors.New("response not found")

	// ErrSubmissionFailed is returned when persisting a submission fails. The
	// cause is logged; callers only ever see this generic error.
	ErrSubmissionFailed = errors.New("submission failed")
)

// MsgSubmissionFailed is the user-facing text for ErrSubmissionFailed.
const MsgSubmissionFailed = "There was an error submitting your response, please try again."

// Delivery errors.
var (
	// ErrNoRecipients is returned when a client has no valid notification
	// address. The email job is failed without retry.
	ErrNoRecipients = errors.New("no valid email recipients")

	// ErrNotificationsDisabled is returned when the client switched email
	// notifications off after the job was queued.
	ErrNotificationsDisabled = errors.New("email notifications disabled")

	// ErrNoPendingEmail is returned by SendFor when the response has no
	// claimable email job.
	ErrNoPendingEmail = errors.New("no pending email notification")
)

// Zapier and API key errors.
var (
	// ErrInvalidAPIKey is returned for malformed, unknown or revoked keys.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrFormForbidden is returned when a form does not belong to the key's client.
	ErrFormForbidden = errors.New("form does not belong to this client")

	// ErrInvalidTargetURL is returned for subscription URLs that are not absolute http(s).
	ErrInvalidTargetURL = errors.New("target_url must be an absolute http(s) URL")

	// ErrSubscriptionExists is returned when the (form, url) pair is already subscribed.
	ErrSubscriptionExists = errors.New("subscription already exists")

	// ErrSubscriptionNotFound is returned when unsubscribing an unknown pair.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrClientNotFound is returned when issuing a key for an unknown client.
	ErrClientNotFound = errors.New("client not found")
)

// ValidationError carries per-field messages keyed by field index (position
// order). FirstInvalid is the lowest failing index, the field the UI should
// focus.
type ValidationError struct {
	Errors       map[int]string
	FirstInvalid int
	// StepIDs maps field index to step id so callers can key errors by id.
	StepIDs map[int]string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed on %d field(s); first at index %d: %s", len(e.Errors), e.FirstInvalid, e.Errors[e.FirstInvalid])
}

// ByStep returns the messages keyed by step id.
func (e *ValidationError) ByStep() map[string]string {
	out := make(map[string]string, len(e.Errors))
	for i, msg := range e.Errors {
		if id, ok := e.StepIDs[i]; ok {
			out[id] = msg
		}
	}
	return out
}

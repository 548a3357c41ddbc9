// Package domain defines the persistence models for clients, forms,
// responses and the notification queue. These types are mapped with GORM and
// form the core data layer of the forms backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/form"
)

// Notification job statuses. A job moves pending → processing → {sent | failed}
// and may fall back from processing to pending on a retryable failure.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Client is an agency-managed tenant: branding plus notification destinations.
//
// Fields:
//   - ClientEmail: primary notification recipient (optional).
//   - AdditionalEmails: extra recipients, validated at send time.
//   - EmailNotificationsEnabled: master switch for the email channel.
//   - WebhookURL: outbound webhook target; empty disables the webhook channel.
type Client struct {
	ID                        string                      `json:"id"                          gorm:"type:char(36);primaryKey"`
	Name                      string                      `json:"name"                        gorm:"type:varchar(255);not null"`
	PrimaryColor              string                      `json:"primary_color"               gorm:"type:varchar(16);not null;default:'#111827'"`
	SecondaryColor            string                      `json:"secondary_color"             gorm:"type:varchar(16);not null;default:'#6366F1'"`
	LogoURL                   *string                     `json:"logo_url,omitempty"`
	ClientEmail               *string                     `json:"client_email,omitempty"      gorm:"type:varchar(320)"`
	AdditionalEmails          datatypes.JSONSlice[string] `json:"additional_emails"`
	EmailNotificationsEnabled bool                        `json:"email_notifications_enabled" gorm:"not null;default:false"`
	WebhookURL                *string                     `json:"webhook_url,omitempty"       gorm:"type:varchar(2048)"`
	CreatedAt                 time.Time                   `json:"created_at"`
	UpdatedAt                 time.Time                   `json:"updated_at"`
	DeletedAt                 gorm.DeletedAt              `json:"-"                           gorm:"index"`
}

// TableName returns the database table name for Client.
func (Client) TableName() string { return "clients" }

// Form is an ordered list of steps owned by a client. The Contact*StepID
// columns map specific steps onto the response contact columns; when unset,
// the first step of the matching kind is used.
type Form struct {
	ID                    string         `json:"id"                                 gorm:"type:char(36);primaryKey"`
	ClientID              string         `json:"client_id"                          gorm:"type:char(36);not null;index"`
	Name                  string         `json:"name"                               gorm:"type:varchar(255);not null"`
	Description           string         `json:"description,omitempty"              gorm:"type:text"`
	IsActive              bool           `json:"is_active"                          gorm:"not null;default:true"`
	ContactNameStepID     *string        `json:"contact_name_step_id,omitempty"     gorm:"type:char(36)"`
	ContactEmailStepID    *string        `json:"contact_email_step_id,omitempty"    gorm:"type:char(36)"`
	ContactPhoneStepID    *string        `json:"contact_phone_step_id,omitempty"    gorm:"type:char(36)"`
	ContactPostcodeStepID *string        `json:"contact_postcode_step_id,omitempty" gorm:"type:char(36)"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `json:"-"                                  gorm:"index"`

	Client *Client `json:"-" gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Form.
func (Form) TableName() string { return "forms" }

// FormStep is one field of a form. Kind holds a form.Kind value.
type FormStep struct {
	ID          string    `json:"id"                      gorm:"type:char(36);primaryKey"`
	FormID      string    `json:"form_id"                 gorm:"type:char(36);not null;index:idx_form_steps,priority:1"`
	Kind        string    `json:"kind"                    gorm:"type:varchar(32);not null"`
	Title       string    `json:"title"                   gorm:"type:varchar(512);not null"`
	Description string    `json:"description,omitempty"   gorm:"type:text"`
	Placeholder string    `json:"placeholder,omitempty"   gorm:"type:varchar(255)"`
	IsRequired  bool      `json:"is_required"             gorm:"not null;default:false"`
	Position    int       `json:"position"                gorm:"not null;index:idx_form_steps,priority:2"`
	MinValue    *int      `json:"min_value,omitempty"`
	MaxValue    *int      `json:"max_value,omitempty"`
	MaxFileSize *int64    `json:"max_file_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Form *Form `json:"-" gorm:"foreignKey:FormID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for FormStep.
func (FormStep) TableName() string { return "form_steps" }

// StepOption is one choice of a choice step.
type StepOption struct {
	ID       string  `json:"id"                  gorm:"type:char(36);primaryKey"`
	StepID   string  `json:"step_id"             gorm:"type:char(36);not null;index"`
	Label    string  `json:"label"               gorm:"type:varchar(512);not null"`
	Value    string  `json:"value"               gorm:"type:varchar(255)"`
	ImageURL *string `json:"image_url,omitempty" gorm:"type:varchar(2048)"`
	Position int     `json:"position"            gorm:"not null;default:0"`

	Step *FormStep `json:"-" gorm:"foreignKey:StepID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StepOption.
func (StepOption) TableName() string { return "step_options" }

// Response is one form submission. It is written once and only ever deleted
// by an operator (cascading to answers and notification jobs).
type Response struct {
	ID              string    `json:"id"                         gorm:"type:char(36);primaryKey"`
	FormID          string    `json:"form_id"                    gorm:"type:char(36);not null;index:idx_form_responses,priority:1"`
	ContactName     *string   `json:"contact_name,omitempty"     gorm:"type:varchar(255)"`
	ContactEmail    *string   `json:"contact_email,omitempty"    gorm:"type:varchar(320)"`
	ContactPhone    *string   `json:"contact_phone,omitempty"    gorm:"type:varchar(64)"`
	ContactPostcode *string   `json:"contact_postcode,omitempty" gorm:"type:varchar(32)"`
	SubmittedAt     time.Time `json:"submitted_at"               gorm:"not null;index:idx_form_responses,priority:2"`
	CreatedAt       time.Time `json:"created_at"`

	// Channels configured when the response was stored. Only these are ever
	// enqueued for it, including by the backfill.
	NotifyWebhookURLs datatypes.JSONSlice[string] `json:"notify_webhook_urls,omitempty"`
	NotifyWebhooks    int                         `json:"notify_webhooks"               gorm:"not null;default:0"`
	NotifyEmail       bool                        `json:"notify_email"                  gorm:"not null;default:false"`

	Form *Form `json:"-" gorm:"foreignKey:FormID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Response.
func (Response) TableName() string { return "responses" }

// ResponseAnswer is the persisted projection of one answer. Typed columns
// (scale_rating, width/height/depth, frames_count) sit next to answer_text so
// they stay queryable.
type ResponseAnswer struct {
	ID                string                                     `json:"id"                           gorm:"type:char(36);primaryKey"`
	ResponseID        string                                     `json:"response_id"                  gorm:"type:char(36);not null;uniqueIndex:ux_answer_response_step,priority:1"`
	StepID            string                                     `json:"step_id"                      gorm:"type:char(36);not null;uniqueIndex:ux_answer_response_step,priority:2"`
	AnswerText        *string                                    `json:"answer_text,omitempty"        gorm:"type:text"`
	SelectedOptionID  *string                                    `json:"selected_option_id,omitempty" gorm:"type:char(36)"`
	FileURL           *string                                    `json:"file_url,omitempty"           gorm:"type:varchar(2048)"`
	FileName          *string                                    `json:"file_name,omitempty"          gorm:"type:varchar(255)"`
	FileSize          *int64                                     `json:"file_size,omitempty"`
	Width             *float64                                   `json:"width,omitempty"`
	Height            *float64                                   `json:"height,omitempty"`
	Depth             *float64                                   `json:"depth,omitempty"`
	Units             *string                                    `json:"units,omitempty"              gorm:"type:varchar(16)"`
	ScaleRating       *int                                       `json:"scale_rating,omitempty"`
	FramesCount       *int                                       `json:"frames_count,omitempty"`
	FrameMeasurements datatypes.JSONSlice[form.FrameMeasurement] `json:"frame_measurements,omitempty"`
	CreatedAt         time.Time                                  `json:"created_at"`

	Response       *Response   `json:"-" gorm:"foreignKey:ResponseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Step           *FormStep   `json:"-" gorm:"foreignKey:StepID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	SelectedOption *StepOption `json:"-" gorm:"foreignKey:SelectedOptionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for ResponseAnswer.
func (ResponseAnswer) TableName() string { return "response_answers" }

// WebhookNotification is a queued webhook POST for one (response, url) pair.
//
// Fields:
//   - Status: pending, processing, sent or failed.
//   - Attempts: delivery attempts so far; only ever increases.
//   - ClaimedAt: set when a worker claims the job; stale claims are reclaimable.
//   - SentAt: set once on 2xx; a sent row is never reprocessed.
type WebhookNotification struct {
	ID            string     `json:"id"                      gorm:"type:char(36);primaryKey"`
	ResponseID    string     `json:"response_id"             gorm:"type:char(36);not null;uniqueIndex:ux_webhook_response_url,priority:1"`
	WebhookURL    string     `json:"webhook_url"             gorm:"type:varchar(2048);not null;uniqueIndex:ux_webhook_response_url,priority:2"`
	Status        string     `json:"status"                  gorm:"type:varchar(16);not null;default:'pending';index:idx_webhook_status,priority:1"`
	Attempts      int        `json:"attempts"                gorm:"not null;default:0"`
	ErrorMessage  *string    `json:"error_message,omitempty" gorm:"type:text"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"              gorm:"index:idx_webhook_status,priority:2"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Response *Response `json:"-" gorm:"foreignKey:ResponseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for WebhookNotification.
func (WebhookNotification) TableName() string { return "webhook_notifications" }

// EmailNotification is the queued email for one response. Recipients are
// resolved from the client at send time and recorded on success.
type EmailNotification struct {
	ID            string                      `json:"id"                      gorm:"type:char(36);primaryKey"`
	ResponseID    string                      `json:"response_id"             gorm:"type:char(36);not null;uniqueIndex:ux_email_response"`
	Status        string                      `json:"status"                  gorm:"type:varchar(16);not null;default:'pending';index:idx_email_status,priority:1"`
	RetryCount    int                         `json:"retry_count"             gorm:"not null;default:0"`
	ErrorMessage  *string                     `json:"error_message,omitempty" gorm:"type:text"`
	Recipients    datatypes.JSONSlice[string] `json:"recipients,omitempty"`
	ClaimedAt     *time.Time                  `json:"claimed_at,omitempty"`
	LastAttemptAt *time.Time                  `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time                  `json:"sent_at,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"              gorm:"index:idx_email_status,priority:2"`
	UpdatedAt     time.Time                   `json:"updated_at"`

	Response *Response `json:"-" gorm:"foreignKey:ResponseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for EmailNotification.
func (EmailNotification) TableName() string { return "email_notifications" }

// WebhookSubscription is a Zapier REST hook: every new response of FormID is
// also delivered to TargetURL.
type WebhookSubscription struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ClientID  string    `json:"client_id"  gorm:"type:char(36);not null;index"`
	FormID    string    `json:"form_id"    gorm:"type:char(36);not null;uniqueIndex:ux_subscription_form_target,priority:1"`
	TargetURL string    `json:"target_url" gorm:"type:varchar(2048);not null;uniqueIndex:ux_subscription_form_target,priority:2"`
	CreatedAt time.Time `json:"created_at"`

	Form *Form `json:"-" gorm:"foreignKey:FormID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for WebhookSubscription.
func (WebhookSubscription) TableName() string { return "webhook_subscriptions" }

// APIKey authenticates Zapier calls for one client. Only the SHA-256 hash of
// the key is stored; Prefix keeps the first characters for display.
type APIKey struct {
	ID         string     `json:"id"                     gorm:"type:char(36);primaryKey"`
	ClientID   string     `json:"client_id"              gorm:"type:char(36);not null;index"`
	Name       string     `json:"name"                   gorm:"type:varchar(255)"`
	Prefix     string     `json:"prefix"                 gorm:"type:varchar(16);not null"`
	KeyHash    string     `json:"-"                      gorm:"type:char(64);not null;uniqueIndex:ux_api_key_hash"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Client *Client `json:"-" gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }

// SubmissionIssue records a partial failure during submission (for example a
// failed upload) for operator review.
type SubmissionIssue struct {
	ID         string     `json:"id"                    gorm:"type:char(36);primaryKey"`
	ResponseID string     `json:"response_id"           gorm:"type:char(36);not null;index"`
	StepID     string     `json:"step_id"               gorm:"type:char(36);not null"`
	Kind       string     `json:"kind"                  gorm:"type:varchar(32);not null"`
	Detail     string     `json:"detail"                gorm:"type:text"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Response *Response `json:"-" gorm:"foreignKey:ResponseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubmissionIssue.
func (SubmissionIssue) TableName() string { return "submission_issues" }

// IssueUploadFailed marks a file answer whose upload failed.
const IssueUploadFailed = "upload_failed"

package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategorySecurity covers sign-in denials, allow-list failures and account
	// gate rejections. These feed security monitoring.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine session activity.
	CategoryOperations EventCategory = "operations"
)

// AuditEvent names an action recorded in the audit trail.
type AuditEvent string

const (
	// Sign-in flow
	EventSignInStarted   AuditEvent = "sign_in_started"
	EventSignInCompleted AuditEvent = "sign_in_completed"
	EventSignInDenied    AuditEvent = "sign_in_denied"
	EventSignInCancelled AuditEvent = "sign_in_cancelled"
	EventSignInFailed    AuditEvent = "sign_in_failed"
	EventSignedOut       AuditEvent = "signed_out"

	// Account creation hook
	EventAccountCreationAllowed AuditEvent = "account_creation_allowed"
	EventAccountCreationDenied  AuditEvent = "account_creation_denied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSignInDenied:          CategorySecurity,
	EventSignInFailed:          CategorySecurity,
	EventAccountCreationDenied: CategorySecurity,

	EventSignInStarted:          CategoryOperations,
	EventSignInCompleted:        CategoryOperations,
	EventSignInCancelled:        CategoryOperations,
	EventSignedOut:              CategoryOperations,
	EventAccountCreationAllowed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    AuditEvent    `json:"action"`
	// Subject is the email the action concerns, when known.
	Subject   string `json:"subject,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IP        string `json:"ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

package logging

// Standardized structured log field names. Components should prefer these
// constants over ad hoc keys so log consumers can filter consistently.
const (
	FieldComponent = "component"
	FieldProcessID = "process_id"
	FieldOwnerID   = "owner_id"
	FieldStage     = "stage"
	FieldProvider  = "provider"
	FieldWebhookID = "webhook_id"
	FieldEventType = "event_type"
	FieldAttempt   = "attempt"
	FieldErrorHint = "error_hint"
	FieldRequestID = "request_id"
)

package logging

// Standardized attribute keys shared across components so log streams stay
// greppable regardless of which subsystem emitted the record.
const (
	FieldComponent  = "component"
	FieldArtifactID = "artifact_id"
	FieldPassID     = "pass_id"
	FieldState      = "state"
	FieldEventType  = "event_type"
	FieldErrorKind  = "error_kind"
	FieldErrorHint  = "error_hint"
)

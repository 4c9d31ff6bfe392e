package logging

// Well-known structured field keys. Handlers and operators rely on these
// names; do not rename without updating log tooling.
const (
	FieldComponent  = "component"
	FieldJobID      = "job_id"
	FieldJobType    = "job_type"
	FieldWorkerID   = "worker_id"
	FieldStage      = "stage"
	FieldRequestID  = "request_id"
	FieldEventType  = "event_type"
	FieldErrorKind  = "error_kind"
	FieldErrorHint  = "error_hint"
	FieldSegment    = "segment"
	FieldSourceURL  = "source_url"
	FieldTokensUsed = "tokens_used"
)

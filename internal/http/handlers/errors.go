package handlers

// Machine-readable error codes carried in every ErrorResponse. Clients
// branch on these, not on the message text. Generic codes mirror HTTP
// status semantics; the rest name rule failures the status alone cannot
// distinguish, like a 400 for messaging yourself versus a 400 for a blank
// body.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Connection and messaging rule failures.
	ErrCodeSelfReference    = "self_reference"
	ErrCodeNotConnected     = "not_connected"
	ErrCodeAlreadyResolved  = "already_resolved"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

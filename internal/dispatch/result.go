package dispatch

// DeliveryResult reports the outcome of one dispatch attempt sequence.
// Created once per dispatch, immutable after return.
type DeliveryResult struct {
	// Success is true when an attempt returned an accepted HTTP status.
	Success bool `json:"success"`

	// StatusCode is the HTTP status of the last attempt, 0 when no
	// response was received.
	StatusCode int `json:"status_code,omitempty"`

	// ErrorMessage describes the last failure, empty on success.
	ErrorMessage string `json:"error_message,omitempty"`

	// Attempts is the number of POSTs actually issued: 1 on first-try
	// success, up to MaxRetries on exhaustion.
	Attempts int `json:"attempts"`

	// Cancelled is true when the caller's context was cancelled before
	// the attempt sequence completed. A cancelled dispatch is not a
	// delivery failure silently swallowed; it is a distinct outcome.
	Cancelled bool `json:"cancelled,omitempty"`
}

// acceptedStatuses are the HTTP statuses counted as successful delivery.
var acceptedStatuses = map[int]bool{
	200: true,
	201: true,
	202: true,
	204: true,
}

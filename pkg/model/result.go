package model

import "encoding/json"

// BatchResult is the normalised outcome of one batch send.
// Status 0 means no HTTP response was received.
type BatchResult struct {
	Status     int
	Success    bool
	Body       json.RawMessage
	Error      string
	RetryAfter *int
}

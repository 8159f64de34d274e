package model

import (
	"strconv"
	"time"
)

// Reason is the HTTP status that caused a pause, as a string code.
type Reason string

const (
	ReasonUnauthorized    Reason = "401"
	ReasonForbidden       Reason = "403"
	ReasonPayloadTooLarge Reason = "413"
	ReasonUnprocessable   Reason = "422"
	ReasonRateLimited     Reason = "429"
	ReasonServerError     Reason = "500"
)

// ReasonFromStatus converts any status code into a Reason.
func ReasonFromStatus(status int) Reason {
	return Reason(strconv.Itoa(status))
}

// PauseRecord suspends delivery until PausedUntil.
type PauseRecord struct {
	PausedUntil time.Time `json:"paused_until"`
	Reason      Reason    `json:"reason"`
}

// Active reports whether the pause still applies at now.
func (p *PauseRecord) Active(now time.Time) bool {
	return p != nil && now.Before(p.PausedUntil)
}

// Remaining is the time left until expiry, never negative.
func (p *PauseRecord) Remaining(now time.Time) time.Duration {
	if p == nil {
		return 0
	}
	if d := p.PausedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

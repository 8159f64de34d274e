package model

import (
	"errors"
	"fmt"
)

// ErrUnknownFeature is returned when a feature name is not recognised.
var ErrUnknownFeature = errors.New("unknown feature")

// Feature is one telemetry type with its own buffer, batch and pause state.
type Feature string

const (
	Errors           Feature = "errors"
	Events           Feature = "events"
	Logs             Feature = "logs"
	PageVisits       Feature = "page_visits"
	JavaScriptErrors Feature = "javascript_errors"
)

// AllFeatures lists every feature in dispatch order.
var AllFeatures = []Feature{Errors, Events, Logs, PageVisits, JavaScriptErrors}

// ParseFeature validates a feature name.
func ParseFeature(s string) (Feature, error) {
	for _, f := range AllFeatures {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
}

// Endpoint is the URL path segment of the feature's batch endpoint.
func (f Feature) Endpoint() string {
	switch f {
	case PageVisits:
		return "page-visits"
	case JavaScriptErrors:
		return "javascript-errors"
	default:
		return string(f)
	}
}

// PayloadField is the JSON field the batch array is sent under.
func (f Feature) PayloadField() string {
	switch f {
	case PageVisits:
		return "visits"
	case JavaScriptErrors:
		return "errors"
	default:
		return string(f)
	}
}

func (f Feature) String() string {
	return string(f)
}

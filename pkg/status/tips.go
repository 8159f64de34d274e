package status

import (
	"fmt"

	"pulsegate/pkg/model"
)

// Tips returns troubleshooting hints for a pause reason.
func Tips(reason model.Reason) []string {
	switch reason {
	case model.ReasonUnauthorized:
		return []string{
			"Verify that PULSEGATE_KEY is set to a valid API key",
			"Check that the key has not been revoked",
		}
	case model.ReasonForbidden:
		return []string{
			"Check that the subscription is active",
			"Verify the account email address",
			"Confirm the plan includes this feature",
		}
	case model.ReasonPayloadTooLarge:
		return []string{
			"The batch was too large, which indicates a client bug",
			"Check batch_max_size for the affected feature",
		}
	case model.ReasonUnprocessable:
		return []string{
			"The API rejected the payload shape",
			"Look for schema drift or malformed data in the internal log",
		}
	case model.ReasonRateLimited:
		return []string{
			"Consider a longer batch.interval",
			"The pause expires on its own once the rate limit window passes",
		}
	case model.ReasonServerError:
		return []string{
			"Check the health of the ingestion API",
			"The pause expires on its own after the exhausted_pause delay",
		}
	}
	return []string{"Check the internal log for details"}
}

// Hint is the one-line summary of a feature pause used in recommendations.
func Hint(reason model.Reason) string {
	switch reason {
	case model.ReasonRateLimited:
		return "Rate limit exceeded, wait for auto-resume"
	case model.ReasonPayloadTooLarge:
		return "Batch too large, client bug, investigate immediately"
	case model.ReasonUnprocessable:
		return "Validation failed, schema drift or malformed data"
	case model.ReasonServerError:
		return "Server errors, check backend health"
	case model.ReasonForbidden:
		return "Access denied, check subscription and permissions"
	}
	return ""
}

// Recommendations lists operator actions for an unhealthy report. A
// healthy report has none.
func Recommendations(r Report) []string {
	if r.Healthy {
		return nil
	}
	var out []string
	if !r.Config.Enabled {
		out = append(out, "Enable delivery with enabled: true or PULSEGATE_ENABLED=true")
	}
	if !r.Config.APIKeyConfigured {
		out = append(out, "Configure PULSEGATE_KEY")
	}
	if r.GloballyPaused() {
		out = append(out,
			"Check API credentials (401 indicates an invalid or revoked key)",
			"Run: pulsegate pause-clear --global")
	}
	for _, fs := range r.Features {
		if fs.Pause == nil || !fs.Pause.Paused {
			continue
		}
		out = append(out, fmt.Sprintf("Feature '%s' paused (reason: %s)", fs.Feature, fs.Pause.Reason))
		if h := Hint(fs.Pause.Reason); h != "" {
			out = append(out, "  -> "+h)
		}
	}
	if r.NearCapacity() {
		out = append(out,
			"Buffers approaching capacity, data may be dropped",
			"Check that pulsegate serve or pulsegate work is running")
	}
	return out
}

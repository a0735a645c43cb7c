package plugin

import (
	"errors"
	"strings"

	"github.com/wasilak/datadog-datasource/pkg/autocomplete"
)

// queryErrorMessage maps a classified Datadog API error to the message
// shown on the panel. Raw API errors tend to leak request internals, so
// the common classes get stable, actionable text.
func queryErrorMessage(err error) string {
	switch {
	case errors.Is(err, autocomplete.ErrUnauthorized):
		return "Invalid Datadog API credentials - check your API key and App key"
	case errors.Is(err, autocomplete.ErrTimeout):
		return "Query timed out - try a shorter time range or a more specific query"
	case errors.Is(err, autocomplete.ErrNotFound):
		return "Datadog endpoint not found - check the configured site"
	}

	msg := err.Error()
	if strings.Contains(msg, "429") {
		return "Datadog API rate limit exceeded - wait a moment and retry"
	}
	if strings.Contains(msg, "400") {
		return "Datadog rejected the query - check the query syntax"
	}
	return "Failed to query Datadog: " + msg
}

package ddapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wasilak/datadog-datasource/pkg/autocomplete"
)

// classify wraps a Datadog API error with the sentinel matching its
// failure class, so callers can branch with errors.Is instead of string
// matching. The generated client does not expose typed errors, so the
// HTTP status is consulted first and the error text second.
func classify(err error, resp *http.Response) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", autocomplete.ErrTimeout, err)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	msg := err.Error()

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "Unauthorized") || strings.Contains(msg, "Forbidden"):
		return fmt.Errorf("%w: %v", autocomplete.ErrUnauthorized, err)
	case status == http.StatusNotFound || strings.Contains(msg, "404"):
		return fmt.Errorf("%w: %v", autocomplete.ErrNotFound, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", autocomplete.ErrTimeout, err)
	}
	return err
}

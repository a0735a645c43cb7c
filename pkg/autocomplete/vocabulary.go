package autocomplete

import (
	"context"
	"errors"
	"fmt"
)

// Vocabulary supplies the metric and tag vocabularies suggestions are
// built from. Implementations may be backed by the Datadog API, a cache,
// or a test fake; the controller only assumes calls may be slow, may
// fail, and respect context cancellation. A nil slice with a nil error is
// treated as an empty vocabulary.
type Vocabulary interface {
	MetricNames(ctx context.Context) ([]string, error)
	TagKeys(ctx context.Context, metric string) ([]string, error)
	TagValues(ctx context.Context, metric, key string) ([]string, error)
}

// Sentinel classifications for vocabulary fetch failures. Implementations
// wrap their transport errors with these (errors.Is) so the controller
// can surface differentiated messages.
var (
	ErrUnauthorized = errors.New("invalid Datadog API credentials")
	ErrNotFound     = errors.New("endpoint not found")
	ErrTimeout      = errors.New("request timed out")
)

// fetchErrorMessage maps a vocabulary error to the user-facing string
// shown inline in the suggestion menu.
func fetchErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Invalid Datadog API credentials - check your API key and App key"
	case errors.Is(err, ErrNotFound):
		return "Autocomplete endpoint not found - the datasource may need an update"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Suggestion request timed out - keep typing to retry"
	default:
		return fmt.Sprintf("Failed to fetch suggestions: %v", err)
	}
}

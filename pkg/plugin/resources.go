package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/wasilak/datadog-datasource/pkg/autocomplete"
	"github.com/wasilak/datadog-datasource/pkg/querylang"
)

// fetchTimeout bounds a single autocomplete vocabulary fetch; the editor
// gives up after the same budget, so a longer wait would serve nobody.
const fetchTimeout = 2 * time.Second

// CallResource routes the autocomplete and validation endpoints backing
// the query editor.
func (d *Datasource) CallResource(ctx context.Context, req *backend.CallResourceRequest, sender backend.CallResourceResponseSender) error {
	logger := log.New()

	switch {
	case req.Method == http.MethodGet && req.Path == "autocomplete/metrics":
		return d.handleMetricNames(ctx, sender)

	case req.Method == http.MethodGet && strings.HasPrefix(req.Path, "autocomplete/tagvalues/"):
		rest := strings.TrimPrefix(req.Path, "autocomplete/tagvalues/")
		metric, key, ok := strings.Cut(rest, "/")
		if !ok || metric == "" || key == "" {
			return sendJSONError(sender, http.StatusBadRequest, "metric and tag key required")
		}
		return d.handleTagValues(ctx, sender, metric, key)

	case req.Method == http.MethodGet && strings.HasPrefix(req.Path, "autocomplete/tags/"):
		metric := strings.TrimPrefix(req.Path, "autocomplete/tags/")
		if metric == "" {
			return sendJSONError(sender, http.StatusBadRequest, "metric name required")
		}
		return d.handleTagKeys(ctx, sender, metric)

	case req.Method == http.MethodPost && req.Path == "autocomplete/validate":
		return d.handleValidate(sender, req.Body)

	default:
		logger.Warn("Unknown resource path", "path", req.Path, "method", req.Method)
		return sendJSONError(sender, http.StatusNotFound, "endpoint not found")
	}
}

func (d *Datasource) handleMetricNames(ctx context.Context, sender backend.CallResourceResponseSender) error {
	if !d.hasCredentials() {
		return sendJSONError(sender, http.StatusUnauthorized, "Invalid Datadog API credentials")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	metrics, err := d.vocabulary.MetricNames(fetchCtx)
	return d.sendVocabulary(sender, metrics, err)
}

func (d *Datasource) handleTagKeys(ctx context.Context, sender backend.CallResourceResponseSender, metric string) error {
	if !d.hasCredentials() {
		return sendJSONError(sender, http.StatusUnauthorized, "Invalid Datadog API credentials")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	keys, err := d.vocabulary.TagKeys(fetchCtx, metric)
	return d.sendVocabulary(sender, keys, err)
}

func (d *Datasource) handleTagValues(ctx context.Context, sender backend.CallResourceResponseSender, metric, key string) error {
	if !d.hasCredentials() {
		return sendJSONError(sender, http.StatusUnauthorized, "Invalid Datadog API credentials")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	values, err := d.vocabulary.TagValues(fetchCtx, metric, key)
	return d.sendVocabulary(sender, values, err)
}

// sendVocabulary serves a vocabulary list. Credential failures surface as
// 401 so the editor can show the right message; transient failures serve
// an empty list with 200, since the editor retries on the next keystroke
// anyway.
func (d *Datasource) sendVocabulary(sender backend.CallResourceResponseSender, items []string, err error) error {
	logger := log.New()

	if err != nil {
		if errors.Is(err, autocomplete.ErrUnauthorized) {
			return sendJSONError(sender, http.StatusUnauthorized, "Invalid Datadog API credentials")
		}
		logger.Error("Vocabulary fetch failed", "error", err)
		items = []string{}
	}
	if items == nil {
		items = []string{}
	}

	body, _ := json.Marshal(items)
	return sender.Send(&backend.CallResourceResponse{
		Status: http.StatusOK,
		Body:   body,
	})
}

// validateRequest is the POST autocomplete/validate body.
type validateRequest struct {
	QueryText string `json:"queryText"`
}

func (d *Datasource) handleValidate(sender backend.CallResourceResponseSender, body []byte) error {
	var req validateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return sendJSONError(sender, http.StatusBadRequest, "invalid request body")
	}

	result := querylang.Validate(req.QueryText)
	respBody, err := json.Marshal(result)
	if err != nil {
		return sendJSONError(sender, http.StatusInternalServerError, "failed to encode result")
	}
	return sender.Send(&backend.CallResourceResponse{
		Status: http.StatusOK,
		Body:   respBody,
	})
}

func sendJSONError(sender backend.CallResourceResponseSender, status int, message string) error {
	body, _ := json.Marshal(map[string]string{"error": message})
	return sender.Send(&backend.CallResourceResponse{
		Status: status,
		Body:   body,
	})
}

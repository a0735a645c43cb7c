package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/grafana/grafana-plugin-sdk-go/data"
)

// LogsHandler executes Datadog log search queries. Unlike metrics, the
// logs API takes one query per request, so queries run sequentially
// within the panel's batch.
type LogsHandler struct {
	datasource  *Datasource
	queryModels map[string]QueryModel
	timeRanges  map[string]backend.TimeRange
}

// NewLogsHandler creates a new LogsHandler instance
func NewLogsHandler(datasource *Datasource, queries []backend.DataQuery) *LogsHandler {
	timeRanges := make(map[string]backend.TimeRange, len(queries))
	for _, q := range queries {
		timeRanges[q.RefID] = q.TimeRange
	}
	return &LogsHandler{
		datasource:  datasource,
		queryModels: make(map[string]QueryModel),
		timeRanges:  timeRanges,
	}
}

// processQuery validates and accumulates a single logs query.
func (h *LogsHandler) processQuery(refID string, qm *QueryModel) error {
	if qm.Hide {
		return nil
	}
	if qm.LogQuery == "" {
		return fmt.Errorf("logs query cannot be empty")
	}
	h.queryModels[refID] = *qm
	return nil
}

// executeQueries runs each accumulated log search and shapes the results
// into log-lines frames.
func (h *LogsHandler) executeQueries(ctx context.Context) (*backend.QueryDataResponse, error) {
	logger := log.New()
	response := backend.NewQueryDataResponse()

	for refID, qm := range h.queryModels {
		tr := h.timeRanges[refID]

		queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		entries, err := h.datasource.client.SearchLogs(queryCtx, qm.LogQuery, tr.From.UnixMilli(), tr.To.UnixMilli())
		cancel()

		if err != nil {
			logger.Error("Log search failed", "error", err, "refID", refID)
			response.Responses[refID] = backend.ErrDataResponse(backend.StatusBadRequest, queryErrorMessage(err))
			continue
		}

		frame := buildLogsFrame(entries, refID)
		response.Responses[refID] = backend.DataResponse{Frames: data.Frames{frame}}
	}

	return response, nil
}

// buildLogsFrame shapes log entries into the frame layout Grafana's logs
// panel expects: timestamp, body, severity, plus per-line labels as JSON.
func buildLogsFrame(entries []datadogV2.Log, refID string) *data.Frame {
	timestamps := make([]time.Time, 0, len(entries))
	bodies := make([]string, 0, len(entries))
	severities := make([]string, 0, len(entries))
	labels := make([]json.RawMessage, 0, len(entries))

	for _, entry := range entries {
		attrs := entry.GetAttributes()

		timestamps = append(timestamps, attrs.GetTimestamp())
		bodies = append(bodies, attrs.GetMessage())
		severities = append(severities, normalizeSeverity(attrs.GetStatus()))

		lineLabels := map[string]string{}
		if service := attrs.GetService(); service != "" {
			lineLabels["service"] = service
		}
		if host := attrs.GetHost(); host != "" {
			lineLabels["host"] = host
		}
		for _, tag := range attrs.GetTags() {
			if key, value, ok := cutTag(tag); ok {
				lineLabels[key] = value
			}
		}
		encoded, err := json.Marshal(lineLabels)
		if err != nil {
			encoded = []byte("{}")
		}
		labels = append(labels, encoded)
	}

	frame := data.NewFrame(refID,
		data.NewField("timestamp", nil, timestamps),
		data.NewField("body", nil, bodies),
		data.NewField("severity", nil, severities),
		data.NewField("labels", nil, labels),
	)
	frame.RefID = refID
	frame.Meta = &data.FrameMeta{
		Type:                   data.FrameTypeLogLines,
		PreferredVisualization: data.VisTypeLogs,
	}
	return frame
}

// normalizeSeverity maps Datadog statuses onto the level names Grafana
// colors natively.
func normalizeSeverity(status string) string {
	switch status {
	case "emergency", "alert", "critical":
		return "critical"
	case "error", "err":
		return "error"
	case "warn", "warning":
		return "warning"
	case "notice", "info", "ok":
		return "info"
	case "debug", "trace":
		return "debug"
	case "":
		return "unknown"
	}
	return status
}

func cutTag(tag string) (key, value string, ok bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ':' {
			return tag[:i], tag[i+1:], i > 0
		}
	}
	return "", "", false
}

package plugin

import (
	"context"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
)

const (
	queryTimeout       = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
)

// QueryHandler is the shape shared by the per-type query handlers: all
// queries of one type are accumulated first, then executed as a batch.
type QueryHandler interface {
	processQuery(refID string, qm *QueryModel) error
	executeQueries(ctx context.Context) (*backend.QueryDataResponse, error)
}

// QueryType represents the type of query being processed
type QueryType string

const (
	// MetricsQueryType represents Datadog metrics queries
	MetricsQueryType QueryType = "metrics"

	// LogsQueryType represents Datadog logs queries
	LogsQueryType QueryType = "logs"
)

// detectQueryType determines the query type based on the QueryModel
func detectQueryType(qm *QueryModel) QueryType {
	if qm.QueryType != "" {
		switch qm.QueryType {
		case "logs":
			return LogsQueryType
		case "metrics":
			return MetricsQueryType
		}
	}

	// Infer from query content
	if qm.LogQuery != "" {
		return LogsQueryType
	}

	// Default to metrics for backward compatibility
	return MetricsQueryType
}

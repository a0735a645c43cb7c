package plugin

import (
	"context"
	"regexp"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/wasilak/datadog-datasource/pkg/querylang"
)

// MetricsHandler batches Datadog metrics queries and formulas from one
// panel into a single timeseries request.
type MetricsHandler struct {
	datasource     *Datasource
	metricsQueries []datadogV2.TimeseriesQuery
	// refIDs lists the RefID of each entry in metricsQueries, in the same
	// order; the response's query_index values address this list. Formula
	// and hidden models never enter it.
	refIDs      []string
	formulas    []datadogV2.QueryFormula
	queryModels map[string]QueryModel
	from        int64
	to          int64
}

// NewMetricsHandler creates a new MetricsHandler instance
func NewMetricsHandler(datasource *Datasource, queries []backend.DataQuery) *MetricsHandler {
	var from, to int64
	if len(queries) > 0 {
		from = queries[0].TimeRange.From.UnixMilli()
		to = queries[0].TimeRange.To.UnixMilli()
	}

	return &MetricsHandler{
		datasource:     datasource,
		metricsQueries: make([]datadogV2.TimeseriesQuery, 0),
		formulas:       make([]datadogV2.QueryFormula, 0),
		queryModels:    make(map[string]QueryModel),
		from:           from,
		to:             to,
	}
}

// processQuery accumulates a single metrics query or formula for the
// batched request.
func (h *MetricsHandler) processQuery(refID string, qm *QueryModel) error {
	logger := log.New()

	if qm.Hide {
		return nil
	}

	h.queryModels[refID] = *qm

	if qm.Type == "math" && qm.Expression != "" {
		// Formula query: convert Grafana references ($A) to Datadog (A)
		formula := convertGrafanaFormulaToDatadog(qm.Expression)
		h.formulas = append(h.formulas, datadogV2.QueryFormula{Formula: formula})
		logger.Debug("Added formula", "refID", refID, "formula", formula)
		return nil
	}

	if qm.QueryText == "" {
		return nil
	}

	queryText := qm.QueryText
	if needsDefaultGrouping(queryText) {
		queryText += " by {*}"
		logger.Debug("Added 'by {*}' to query", "original", qm.QueryText, "modified", queryText)
	}

	queryName := refID
	h.metricsQueries = append(h.metricsQueries, datadogV2.TimeseriesQuery{
		MetricsTimeseriesQuery: &datadogV2.MetricsTimeseriesQuery{
			DataSource: datadogV2.METRICSDATASOURCE_METRICS,
			Query:      queryText,
			Name:       &queryName,
		},
	})
	h.refIDs = append(h.refIDs, refID)
	logger.Debug("Added metrics query", "refID", refID, "query", queryText)
	return nil
}

// needsDefaultGrouping reports whether a query should have " by {*}"
// appended. Queries that already group, or that use boolean filter
// operators (where Datadog rejects an appended grouping), are left
// untouched.
func needsDefaultGrouping(queryText string) bool {
	return !querylang.HasGrouping(queryText) && !querylang.HasBooleanFilter(queryText)
}

// grafanaFormulaRefRe matches $A style query references in expressions.
var grafanaFormulaRefRe = regexp.MustCompile(`\$([A-Za-z]\w*)`)

// convertGrafanaFormulaToDatadog rewrites $A-style references to the bare
// query names the Datadog formula API expects.
func convertGrafanaFormulaToDatadog(expression string) string {
	return grafanaFormulaRefRe.ReplaceAllString(expression, "$1")
}

// executeQueries executes all accumulated queries as one batched request.
func (h *MetricsHandler) executeQueries(ctx context.Context) (*backend.QueryDataResponse, error) {
	logger := log.New()
	response := backend.NewQueryDataResponse()

	if len(h.metricsQueries) == 0 && len(h.formulas) == 0 {
		return response, nil
	}

	body := datadogV2.TimeseriesFormulaQueryRequest{
		Data: datadogV2.TimeseriesFormulaRequest{
			Type: datadogV2.TIMESERIESFORMULAREQUESTTYPE_TIMESERIES_REQUEST,
			Attributes: datadogV2.TimeseriesFormulaRequestAttributes{
				From:    h.from,
				To:      h.to,
				Queries: h.metricsQueries,
			},
		},
	}
	if len(h.formulas) > 0 {
		body.Data.Attributes.Formulas = h.formulas
	}

	// Interval override: first query that sets one wins, otherwise
	// Datadog auto-calculates.
	for _, qm := range h.queryModels {
		if qm.Interval != nil && *qm.Interval > 0 {
			body.Data.Attributes.Interval = qm.Interval
			break
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	resp, err := h.datasource.client.QueryTimeseriesBatch(queryCtx, body)
	if err != nil {
		logger.Error("Batched metrics query failed", "error", err, "queries", len(h.metricsQueries))
		errorMsg := queryErrorMessage(err)
		for refID := range h.queryModels {
			response.Responses[refID] = backend.ErrDataResponse(backend.StatusBadRequest, errorMsg)
		}
		return response, nil
	}

	parser := NewMetricsResponseParser()
	if err := parser.ParseTimeseriesResponse(&resp, h.refIDs, h.queryModels, response); err != nil {
		logger.Error("Failed to parse timeseries response", "error", err)
	}
	return response, nil
}

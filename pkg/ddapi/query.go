package ddapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// QueryTimeseries runs a metric query over [from, to] (unix millis) and
// returns the raw v2 response for the caller to shape.
func (c *Client) QueryTimeseries(ctx context.Context, query string, from, to int64) (datadogV2.TimeseriesFormulaQueryResponse, error) {
	body := datadogV2.TimeseriesFormulaQueryRequest{
		Data: datadogV2.TimeseriesFormulaRequest{
			Type: datadogV2.TIMESERIESFORMULAREQUESTTYPE_TIMESERIES_REQUEST,
			Attributes: datadogV2.TimeseriesFormulaRequestAttributes{
				From: from,
				To:   to,
				Queries: []datadogV2.TimeseriesQuery{
					{
						MetricsTimeseriesQuery: &datadogV2.MetricsTimeseriesQuery{
							DataSource: datadogV2.METRICSDATASOURCE_METRICS,
							Query:      query,
						},
					},
				},
			},
		},
	}

	return c.QueryTimeseriesBatch(ctx, body)
}

// QueryTimeseriesBatch runs a pre-built timeseries request, typically
// carrying several queries and formulas from one panel.
func (c *Client) QueryTimeseriesBatch(ctx context.Context, body datadogV2.TimeseriesFormulaQueryRequest) (datadogV2.TimeseriesFormulaQueryResponse, error) {
	logger := log.New()

	resp, httpResp, err := c.api.QueryTimeseriesData(c.authContext(ctx), body)
	if err != nil {
		requestBody, _ := json.Marshal(body)
		logger.Error("QueryTimeseriesData API call failed",
			"error", err,
			"request", string(requestBody))
		return resp, classify(err, httpResp)
	}
	return resp, nil
}

// HealthCheck issues a cheap query against a metric every org has, so
// credentials and connectivity are verified the same way real queries
// run.
func (c *Client) HealthCheck(ctx context.Context) error {
	now := time.Now()
	fromMs := now.Add(-1 * time.Hour).UnixMilli()
	toMs := now.UnixMilli()

	interval := int64(5000)
	formula := "a"
	queryName := "a"

	body := datadogV2.TimeseriesFormulaQueryRequest{
		Data: datadogV2.TimeseriesFormulaRequest{
			Type: datadogV2.TIMESERIESFORMULAREQUESTTYPE_TIMESERIES_REQUEST,
			Attributes: datadogV2.TimeseriesFormulaRequestAttributes{
				From:     fromMs,
				To:       toMs,
				Interval: &interval,
				Formulas: []datadogV2.QueryFormula{
					{Formula: formula},
				},
				Queries: []datadogV2.TimeseriesQuery{
					{
						MetricsTimeseriesQuery: &datadogV2.MetricsTimeseriesQuery{
							DataSource: datadogV2.METRICSDATASOURCE_METRICS,
							Query:      "avg:datadog.estimated_usage.metrics.custom{*}",
							Name:       &queryName,
						},
					},
				},
			},
		},
	}

	_, httpResp, err := c.api.QueryTimeseriesData(c.authContext(ctx), body)
	if err != nil {
		return classify(err, httpResp)
	}
	return nil
}

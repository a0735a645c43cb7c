package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/instancemgmt"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/wasilak/datadog-datasource/pkg/autocomplete"
	"github.com/wasilak/datadog-datasource/pkg/ddapi"
)

var (
	_ backend.QueryDataHandler    = (*Datasource)(nil)
	_ backend.CallResourceHandler = (*Datasource)(nil)
	_ backend.CheckHealthHandler  = (*Datasource)(nil)
	_ instancemgmt.Instance       = (*Datasource)(nil)
)

// Datasource represents the Datadog datasource plugin instance
type Datasource struct {
	InstanceSettings *backend.DataSourceInstanceSettings
	JSONData         *DataSourceOptions
	SecureJSONData   map[string]string

	client     *ddapi.Client
	vocabulary *ddapi.Vocabulary
}

// DataSourceOptions defines the JSON options for the datasource
type DataSourceOptions struct {
	Site string `json:"site"`
}

// QueryModel represents a query from the frontend
type QueryModel struct {
	QueryText         string `json:"queryText"`
	Label             string `json:"label"`
	Hide              bool   `json:"hide"`
	Type              string `json:"type"`
	Expression        string `json:"expression"`
	QueryType         string `json:"queryType"`
	LogQuery          string `json:"logQuery"`
	Interval          *int64 `json:"interval"`
	LegendMode        string `json:"legendMode"`
	LegendTemplate    string `json:"legendTemplate"`
	InterpolatedLabel string `json:"interpolatedLabel"`
}

// NewDatasource creates a new Datasource factory function
func NewDatasource(ctx context.Context, settings backend.DataSourceInstanceSettings) (instancemgmt.Instance, error) {
	logger := log.New()

	var opts DataSourceOptions
	if err := json.Unmarshal(settings.JSONData, &opts); err != nil {
		logger.Error("failed to parse JSONData", "error", err)
		return nil, fmt.Errorf("failed to parse JSONData: %w", err)
	}

	secure := settings.DecryptedSecureJSONData
	client := ddapi.NewClient(ddapi.Config{
		APIKey: secure["apiKey"],
		AppKey: secure["appKey"],
		Site:   opts.Site,
	})

	ds := &Datasource{
		InstanceSettings: &settings,
		JSONData:         &opts,
		SecureJSONData:   secure,
		client:           client,
		vocabulary:       ddapi.NewVocabulary(client),
	}

	logger.Info("Datasource initialized", "site", opts.Site)
	return ds, nil
}

// Dispose disposes of the datasource instance
func (d *Datasource) Dispose() {}

// hasCredentials reports whether both keys are configured.
func (d *Datasource) hasCredentials() bool {
	return d.SecureJSONData["apiKey"] != "" && d.SecureJSONData["appKey"] != ""
}

// QueryData handles data source queries from Grafana. Queries are
// partitioned by type and dispatched to the matching handler, each of
// which batches its queries into a single Datadog call where the API
// allows it.
func (d *Datasource) QueryData(ctx context.Context, req *backend.QueryDataRequest) (*backend.QueryDataResponse, error) {
	logger := log.New()
	response := backend.NewQueryDataResponse()

	if !d.hasCredentials() {
		logger.Error("missing API credentials in secure data")
		return response, fmt.Errorf("missing Datadog API credentials")
	}

	metricsHandler := NewMetricsHandler(d, req.Queries)
	logsHandler := NewLogsHandler(d, req.Queries)

	for _, q := range req.Queries {
		var qm QueryModel
		if err := json.Unmarshal(q.JSON, &qm); err != nil {
			logger.Error("failed to parse query", "error", err, "refID", q.RefID)
			response.Responses[q.RefID] = backend.DataResponse{
				Error: fmt.Errorf("failed to parse query: %w", err),
			}
			continue
		}

		var handler QueryHandler
		switch detectQueryType(&qm) {
		case LogsQueryType:
			handler = logsHandler
		default:
			handler = metricsHandler
		}
		if err := handler.processQuery(q.RefID, &qm); err != nil {
			logger.Error("failed to process query", "error", err, "refID", q.RefID)
			response.Responses[q.RefID] = backend.DataResponse{Error: err}
		}
	}

	for _, handler := range []QueryHandler{metricsHandler, logsHandler} {
		partial, err := handler.executeQueries(ctx)
		if err != nil {
			return response, err
		}
		for refID, resp := range partial.Responses {
			response.Responses[refID] = resp
		}
	}

	return response, nil
}

// CheckHealth checks the health of the datasource connection
func (d *Datasource) CheckHealth(ctx context.Context, req *backend.CheckHealthRequest) (*backend.CheckHealthResult, error) {
	logger := log.New()

	if d.SecureJSONData["apiKey"] == "" {
		return &backend.CheckHealthResult{
			Status:  backend.HealthStatusError,
			Message: "Missing API key",
		}, nil
	}
	if d.SecureJSONData["appKey"] == "" {
		return &backend.CheckHealthResult{
			Status:  backend.HealthStatusError,
			Message: "Missing App key",
		}, nil
	}

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	logger.Info("CheckHealth: starting health check", "site", d.JSONData.Site)

	if err := d.client.HealthCheck(healthCtx); err != nil {
		logger.Error("Health check failed", "error", err)
		switch {
		case errors.Is(err, autocomplete.ErrUnauthorized):
			return &backend.CheckHealthResult{
				Status:  backend.HealthStatusError,
				Message: "Invalid Datadog API credentials",
			}, nil
		case errors.Is(err, autocomplete.ErrTimeout):
			return &backend.CheckHealthResult{
				Status:  backend.HealthStatusError,
				Message: "Connection to Datadog timed out",
			}, nil
		}
		return &backend.CheckHealthResult{
			Status:  backend.HealthStatusError,
			Message: "Failed to connect to Datadog: " + err.Error(),
		}, nil
	}

	return &backend.CheckHealthResult{
		Status:  backend.HealthStatusOk,
		Message: "Connected to Datadog",
	}, nil
}

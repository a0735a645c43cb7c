// Package ddapi wraps the Datadog API client with credential plumbing,
// vocabulary extraction and error classification shared by the plugin
// backend and the ddql console.
package ddapi

import (
	"context"
	"strings"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// DefaultSite is used when the datasource configuration leaves the
// Datadog site empty (US region).
const DefaultSite = "datadoghq.com"

// Config carries the credentials and site for one Datadog org.
type Config struct {
	APIKey string
	AppKey string
	Site   string
}

// Client is a thin wrapper over the Datadog v2 metrics API.
type Client struct {
	cfg  Config
	api  *datadogV2.MetricsApi
	logs *datadogV2.LogsApi
}

// NewClient builds a client from the given credentials. Site defaults to
// DefaultSite when empty.
func NewClient(cfg Config) *Client {
	if cfg.Site == "" {
		cfg.Site = DefaultSite
	}
	configuration := datadog.NewConfiguration()
	apiClient := datadog.NewAPIClient(configuration)
	return &Client{
		cfg:  cfg,
		api:  datadogV2.NewMetricsApi(apiClient),
		logs: datadogV2.NewLogsApi(apiClient),
	}
}

// authContext attaches the site and API keys the generated client reads
// from context values.
func (c *Client) authContext(ctx context.Context) context.Context {
	ddCtx := context.WithValue(ctx, datadog.ContextServerVariables, map[string]string{
		"site": c.cfg.Site,
	})
	return context.WithValue(ddCtx, datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {Key: c.cfg.APIKey},
		"appKeyAuth": {Key: c.cfg.AppKey},
	})
}

// MetricNames lists the metric names visible to the org. Requires the
// metrics_read scope on the API key.
func (c *Client) MetricNames(ctx context.Context) ([]string, error) {
	logger := log.New()

	resp, httpResp, err := c.api.ListTagConfigurations(c.authContext(ctx))
	if err != nil {
		logger.Error("Failed to fetch metric names", "error", err)
		return nil, classify(err, httpResp)
	}

	metrics := []string{}
	for _, config := range resp.GetData() {
		// OneOf payload: either field may carry the metric id
		if config.Metric != nil {
			if id := config.Metric.GetId(); id != "" {
				metrics = append(metrics, id)
			}
		} else if config.MetricTagConfiguration != nil {
			if id := config.MetricTagConfiguration.GetId(); id != "" {
				metrics = append(metrics, id)
			}
		}
	}
	return metrics, nil
}

// MetricTags lists the raw "key:value" tags indexed for a metric.
func (c *Client) MetricTags(ctx context.Context, metric string) ([]string, error) {
	logger := log.New()

	resp, httpResp, err := c.api.ListTagsByMetricName(c.authContext(ctx), metric)
	if err != nil {
		logger.Error("Failed to fetch tags", "error", err, "metric", metric)
		return nil, classify(err, httpResp)
	}

	tags := []string{}
	data := resp.GetData()
	if data.Id != nil {
		attributes := data.GetAttributes()
		tags = attributes.GetTags()
	}
	return tags, nil
}

// TagKeys reduces a metric's raw tags to their unique keys, preserving
// first-seen order.
func TagKeys(rawTags []string) []string {
	seen := make(map[string]bool, len(rawTags))
	keys := []string{}
	for _, tag := range rawTags {
		key, _, _ := strings.Cut(tag, ":")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// TagValues extracts the unique values a key takes among a metric's raw
// tags.
func TagValues(rawTags []string, key string) []string {
	prefix := key + ":"
	seen := make(map[string]bool)
	values := []string{}
	for _, tag := range rawTags {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		value := tag[len(prefix):]
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		values = append(values, value)
	}
	return values
}

package plugin

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/grafana/grafana-plugin-sdk-go/data"
)

// MetricsResponseParser converts Datadog timeseries responses into
// Grafana data frames, applying per-query legend configuration.
type MetricsResponseParser struct{}

// NewMetricsResponseParser creates a new MetricsResponseParser instance
func NewMetricsResponseParser() *MetricsResponseParser {
	return &MetricsResponseParser{}
}

// ParseTimeseriesResponse maps each series in the batched response back
// to its query's RefID and builds one frame per series. refIDs lists the
// RefIDs in the order their queries were appended to the request, since
// that is what each series' query_index addresses.
func (p *MetricsResponseParser) ParseTimeseriesResponse(
	resp *datadogV2.TimeseriesFormulaQueryResponse,
	refIDs []string,
	queryModels map[string]QueryModel,
	response *backend.QueryDataResponse,
) error {
	logger := log.New()

	if resp == nil {
		for refID := range queryModels {
			response.Responses[refID] = backend.ErrDataResponse(backend.StatusBadRequest, "No data received from Datadog API")
		}
		return fmt.Errorf("nil response received from Datadog API")
	}

	series := resp.GetData()
	if len(series.Attributes.Series) == 0 {
		for refID := range queryModels {
			response.Responses[refID] = backend.DataResponse{Frames: data.Frames{}}
		}
		return nil
	}

	times := resp.GetData().Attributes.GetTimes()
	values := resp.GetData().Attributes.GetValues()

	logger.Debug("Processing Datadog series",
		"seriesCount", len(series.Attributes.Series),
		"timesCount", len(times),
		"valuesCount", len(values))

	framesByQuery := make(map[int]data.Frames)

	for i := range series.Attributes.GetSeries() {
		s := &series.Attributes.Series[i]
		queryIndex := int(s.GetQueryIndex())

		if i >= len(values) {
			logger.Warn("Series index out of bounds", "seriesIndex", i, "valuesCount", len(values))
			continue
		}
		pointlist := values[i]
		if len(pointlist) == 0 {
			continue
		}

		timeValues := make([]time.Time, 0, len(times))
		numberValues := make([]float64, 0, len(times))
		for j, timeVal := range times {
			if j >= len(pointlist) {
				break
			}
			if point := pointlist[j]; point != nil {
				timeValues = append(timeValues, time.UnixMilli(timeVal))
				numberValues = append(numberValues, *point)
			}
		}
		if len(timeValues) == 0 {
			continue
		}

		labels := map[string]string{}
		for _, tag := range s.GetGroupTags() {
			if key, value, ok := strings.Cut(tag, ":"); ok {
				labels[key] = value
			}
		}

		if queryIndex >= len(refIDs) {
			logger.Warn("Query index out of range", "queryIndex", queryIndex)
			continue
		}
		refID := refIDs[queryIndex]
		qm, exists := queryModels[refID]
		if !exists {
			continue
		}

		seriesName := buildSeriesName(qm, labels)

		frame := data.NewFrame(
			seriesName,
			data.NewField("Time", nil, timeValues),
			data.NewField("Value", labels, numberValues),
		)
		frame.Fields[1].Config = &data.FieldConfig{DisplayName: seriesName}
		frame.Meta = &data.FrameMeta{Type: data.FrameTypeTimeSeriesMulti}

		framesByQuery[queryIndex] = append(framesByQuery[queryIndex], frame)
	}

	for queryIndex, frames := range framesByQuery {
		response.Responses[refIDs[queryIndex]] = backend.DataResponse{Frames: frames}
	}

	return nil
}

// buildSeriesName applies the query's legend configuration. Custom mode
// uses the template with {{tag}} substitution; the legacy label fields
// are honored outside auto mode; otherwise the name is the query text
// plus its group tags.
func buildSeriesName(qm QueryModel, labels map[string]string) string {
	var legendTemplate string
	if qm.LegendMode == "custom" && qm.LegendTemplate != "" {
		legendTemplate = qm.LegendTemplate
	} else if qm.LegendMode != "auto" {
		if qm.InterpolatedLabel != "" {
			legendTemplate = qm.InterpolatedLabel
		} else if qm.Label != "" {
			legendTemplate = qm.Label
		}
	}

	if legendTemplate != "" {
		return replaceTemplateVariables(legendTemplate, labels)
	}

	seriesName := qm.QueryText
	if len(labels) > 0 {
		labelStrings := make([]string, 0, len(labels))
		for k, v := range labels {
			labelStrings = append(labelStrings, k+":"+v)
		}
		sort.Strings(labelStrings)
		seriesName = qm.QueryText + " {" + strings.Join(labelStrings, ", ") + "}"
	}
	return seriesName
}

// replaceTemplateVariables substitutes {{key}} placeholders with label
// values; unknown placeholders are left as-is.
func replaceTemplateVariables(template string, labels map[string]string) string {
	result := template
	for key, value := range labels {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

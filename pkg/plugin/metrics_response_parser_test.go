package plugin

import (
	"encoding/json"
	"testing"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeseriesResponseFromJSON(t *testing.T, raw string) datadogV2.TimeseriesFormulaQueryResponse {
	t.Helper()
	var resp datadogV2.TimeseriesFormulaQueryResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return resp
}

func TestParseTimeseriesResponse_SeriesFollowRequestOrder(t *testing.T) {
	// query_index addresses the request's Queries array: C was appended
	// first and B second, while the formula A never entered the array.
	// Alphabetical RefID order would misattribute every series here.
	queryModels := map[string]QueryModel{
		"A": {Type: "math", Expression: "$C / $B"},
		"C": {QueryText: "avg:system.cpu.user{*}"},
		"B": {QueryText: "sum:requests{*}"},
	}
	refIDs := []string{"C", "B"}

	resp := timeseriesResponseFromJSON(t, `{
		"data": {
			"type": "timeseries_response",
			"attributes": {
				"series": [
					{"query_index": 0, "group_tags": ["host:web-01"]},
					{"query_index": 1, "group_tags": []}
				],
				"times": [1700000000000, 1700000060000],
				"values": [[1.5, 2.5], [10, 20]]
			}
		}
	}`)

	response := backend.NewQueryDataResponse()
	require.NoError(t, NewMetricsResponseParser().ParseTimeseriesResponse(&resp, refIDs, queryModels, response))

	cFrames := response.Responses["C"].Frames
	require.Len(t, cFrames, 1)
	assert.Equal(t, "avg:system.cpu.user{*} {host:web-01}", cFrames[0].Name)
	assert.Equal(t, map[string]string{"host": "web-01"}, map[string]string(cFrames[0].Fields[1].Labels))

	bFrames := response.Responses["B"].Frames
	require.Len(t, bFrames, 1)
	assert.Equal(t, "sum:requests{*}", bFrames[0].Name)
	assert.Equal(t, 10.0, bFrames[0].Fields[1].At(0))

	_, hasFormulaResponse := response.Responses["A"]
	assert.False(t, hasFormulaResponse, "no series carried the formula's index")
}

func TestParseTimeseriesResponse_IndexOutOfRangeSkipped(t *testing.T) {
	queryModels := map[string]QueryModel{"A": {QueryText: "avg:cpu{*}"}}
	resp := timeseriesResponseFromJSON(t, `{
		"data": {
			"type": "timeseries_response",
			"attributes": {
				"series": [{"query_index": 5, "group_tags": []}],
				"times": [1700000000000],
				"values": [[1]]
			}
		}
	}`)

	response := backend.NewQueryDataResponse()
	require.NoError(t, NewMetricsResponseParser().ParseTimeseriesResponse(&resp, []string{"A"}, queryModels, response))
	assert.Empty(t, response.Responses["A"].Frames)
}

func TestBuildSeriesName(t *testing.T) {
	labels := map[string]string{"host": "web-01", "env": "prod"}

	t.Run("custom template", func(t *testing.T) {
		qm := QueryModel{LegendMode: "custom", LegendTemplate: "{{host}} ({{env}})"}
		assert.Equal(t, "web-01 (prod)", buildSeriesName(qm, labels))
	})

	t.Run("unknown placeholder kept", func(t *testing.T) {
		qm := QueryModel{LegendMode: "custom", LegendTemplate: "{{region}}"}
		assert.Equal(t, "{{region}}", buildSeriesName(qm, labels))
	})

	t.Run("legacy label outside auto mode", func(t *testing.T) {
		qm := QueryModel{Label: "my series"}
		assert.Equal(t, "my series", buildSeriesName(qm, labels))
	})

	t.Run("interpolated label wins over plain label", func(t *testing.T) {
		qm := QueryModel{Label: "plain", InterpolatedLabel: "cpu on {{host}}"}
		assert.Equal(t, "cpu on web-01", buildSeriesName(qm, labels))
	})

	t.Run("auto mode ignores legacy label", func(t *testing.T) {
		qm := QueryModel{LegendMode: "auto", Label: "my series", QueryText: "avg:cpu{*}"}
		assert.Equal(t, "avg:cpu{*} {env:prod, host:web-01}", buildSeriesName(qm, labels))
	})

	t.Run("auto mode without labels", func(t *testing.T) {
		qm := QueryModel{QueryText: "avg:cpu{*}"}
		assert.Equal(t, "avg:cpu{*}", buildSeriesName(qm, map[string]string{}))
	})
}

func TestReplaceTemplateVariables(t *testing.T) {
	labels := map[string]string{"host": "web-01", "env": "prod"}
	assert.Equal(t, "web-01/prod", replaceTemplateVariables("{{host}}/{{env}}", labels))
	assert.Equal(t, "static", replaceTemplateVariables("static", labels))
	assert.Equal(t, "", replaceTemplateVariables("", labels))
}

package querylang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Contexts(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		cursor  int
		kind    ContextKind
		token   string
		metric  string
		tagKey  string
		pending bool
	}{
		{name: "empty query", text: "", cursor: 0, kind: KindAggregation},
		{name: "typing aggregator", text: "av", cursor: 2, kind: KindAggregation, token: "av"},
		{name: "cursor before aggregator colon", text: "avg:system.cpu.user", cursor: 3, kind: KindAggregation, token: "avg"},
		{name: "typing metric", text: "avg:sys", cursor: 7, kind: KindMetric, token: "sys"},
		{name: "cursor mid metric", text: "avg:system.cpu.user", cursor: 10, kind: KindMetric, token: "system"},
		{name: "first tag key", text: "avg:system.cpu.user{ho", cursor: 22, kind: KindTagKey, token: "ho", metric: "system.cpu.user"},
		{name: "empty filter section", text: "avg:cpu{", cursor: 8, kind: KindTagKey, metric: "cpu"},
		{name: "first tag value", text: "avg:cpu{host:web", cursor: 16, kind: KindTagValue, token: "web", metric: "cpu", tagKey: "host"},
		{name: "second tag key", text: "avg:cpu{host:a,en", cursor: 17, kind: KindFilterTagKey, token: "en", metric: "cpu"},
		{name: "second tag value", text: "avg:cpu{host:a,env:pr", cursor: 21, kind: KindFilterTagValue, token: "pr", metric: "cpu", tagKey: "env"},
		{name: "after OR operator", text: "avg:cpu{host:a OR ", cursor: 18, kind: KindTagValue, metric: "cpu", tagKey: "host", pending: true},
		{name: "value typed after OR", text: "avg:cpu{host:a OR host:w", cursor: 24, kind: KindTagValue, token: "w", metric: "cpu", tagKey: "host", pending: true},
		{name: "inside IN list", text: "avg:cpu{host IN (web-01, ", cursor: 25, kind: KindTagValue, metric: "cpu", tagKey: "host", pending: true},
		{name: "typing inside IN list", text: "avg:cpu{host IN (we", cursor: 19, kind: KindTagValue, token: "we", metric: "cpu", tagKey: "host", pending: true},
		{name: "grouping clause", text: "avg:cpu{*} by {ho", cursor: 17, kind: KindGrouping, token: "ho"},
		{name: "grouping second tag", text: "avg:cpu{*} by {host,en", cursor: 22, kind: KindGrouping, token: "en"},
		{name: "after closed braces", text: "avg:cpu{*} ", cursor: 11, kind: KindOther},
		{name: "brace without metric", text: "{", cursor: 1, kind: KindOther},
		{name: "brace after bare aggregator", text: "avg:{", cursor: 5, kind: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := Parse(tt.text, tt.cursor)
			assert.Equal(t, tt.kind, ctx.Kind, "kind")
			assert.Equal(t, tt.token, ctx.CurrentToken, "current token")
			assert.Equal(t, tt.metric, ctx.Metric, "metric")
			assert.Equal(t, tt.tagKey, ctx.TagKey, "tag key")
			assert.Equal(t, tt.pending, ctx.BooleanOperatorPending, "boolean pending")
		})
	}
}

func TestParse_TrailingColonIsValueContext(t *testing.T) {
	ctx := Parse("avg:system.cpu.user{host:", 26)
	assert.Equal(t, KindTagValue, ctx.Kind)
	assert.Equal(t, "system.cpu.user", ctx.Metric)
	assert.Equal(t, "host", ctx.TagKey)
	assert.Empty(t, ctx.CurrentToken)
}

func TestParse_ExistingTags(t *testing.T) {
	ctx := Parse("avg:cpu{host:a,env:prod,se", 26)
	require.Equal(t, KindFilterTagKey, ctx.Kind)
	assert.Equal(t, []string{"host", "env"}, ctx.ExistingTags)
	assert.Equal(t, "se", ctx.CurrentToken)
}

func TestParse_QuotedValues(t *testing.T) {
	t.Run("colon inside quotes does not end the key", func(t *testing.T) {
		ctx := Parse(`avg:cpu{url:"http://a", en`, 26)
		assert.Equal(t, KindFilterTagKey, ctx.Kind)
		assert.Equal(t, []string{"url"}, ctx.ExistingTags)
		assert.Equal(t, "en", ctx.CurrentToken)
	})

	t.Run("comma inside quotes does not split entries", func(t *testing.T) {
		ctx := Parse(`avg:cpu{name:"a,b`, 17)
		assert.Equal(t, KindTagValue, ctx.Kind)
		assert.Equal(t, "name", ctx.TagKey)
		assert.Empty(t, ctx.ExistingTags)
	})
}

func TestParse_UnbalancedBracesNeverPanics(t *testing.T) {
	inputs := []string{
		"avg:cpu{{{",
		"}}}",
		"avg:cpu{host:a}}",
		"{",
		"avg:cpu{host:a by {x",
	}
	for _, in := range inputs {
		for cursor := 0; cursor <= len(in); cursor++ {
			assert.NotPanics(t, func() { Parse(in, cursor) }, "input %q cursor %d", in, cursor)
		}
	}
}

// Classification is total: every cursor position in every input yields
// exactly one defined kind, and the metric binding invariant holds.
func TestParse_TotalityAndMetricBinding(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"avg",
		"avg:",
		"avg:system.cpu.user",
		"avg:system.cpu.user{",
		"avg:system.cpu.user{host",
		"avg:system.cpu.user{host:web-01",
		"avg:system.cpu.user{host:web-01,env:prod}",
		"avg:system.cpu.user{host:web-01} by {env}",
		"avg:cpu{host IN (a,b)} by {host,env}",
		"avg:cpu{host:a OR host:b}",
		`avg:cpu{url:"http://x:80/,y"}`,
		"{",
		"{host:a",
		"avg:{host",
	}
	for _, in := range inputs {
		for cursor := 0; cursor <= len(in); cursor++ {
			ctx := Parse(in, cursor)
			assert.GreaterOrEqual(t, int(ctx.Kind), int(KindAggregation))
			assert.LessOrEqual(t, int(ctx.Kind), int(KindOther))
			if ctx.Kind.IsTagContext() {
				assert.NotEmpty(t, ctx.Metric,
					"metric must be bound in tag contexts: %q cursor %d kind %s", in, cursor, ctx.Kind)
			} else {
				assert.Empty(t, ctx.Metric,
					"metric must not be bound outside tag contexts: %q cursor %d kind %s", in, cursor, ctx.Kind)
			}
		}
	}
}

func TestParse_CursorClamped(t *testing.T) {
	ctx := Parse("avg:cpu", 100)
	assert.Equal(t, KindMetric, ctx.Kind)
	assert.Equal(t, 7, ctx.Cursor)

	ctx = Parse("avg:cpu", -5)
	assert.Equal(t, 0, ctx.Cursor)
	assert.Equal(t, KindAggregation, ctx.Kind)
}

func TestParse_MetricNameEndingInBy(t *testing.T) {
	// "by" as the tail of a metric name must not be mistaken for grouping
	ctx := Parse("avg:requests.by{ho", 18)
	assert.Equal(t, KindTagKey, ctx.Kind)
	assert.Equal(t, "requests.by", ctx.Metric)
}

package querylang

import (
	"sort"
	"strings"
)

// CompletionKind categorizes a completion for grouping and rendering.
type CompletionKind int

const (
	CompletionAggregation CompletionKind = iota
	CompletionMetric
	CompletionTagKey
	CompletionTagValue
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionAggregation:
		return "aggregation"
	case CompletionMetric:
		return "metric"
	case CompletionTagKey:
		return "tag_key"
	default:
		return "tag_value"
	}
}

// Completion is one candidate completion. InsertText is spliced into the
// query in place of the current token; for tag keys it carries the single
// separating colon, and hosts must never append another.
type Completion struct {
	Label      string         `json:"label"`
	InsertText string         `json:"insertText"`
	Kind       CompletionKind `json:"kind"`
	SortText   string         `json:"sortText,omitempty"`
}

// CompletionGroup is a display grouping of completions sharing a kind.
type CompletionGroup struct {
	Label string       `json:"groupLabel"`
	Items []Completion `json:"items"`
}

// MaxSuggestions bounds every suggestion batch, keeping render cost and
// keyboard navigation manageable.
const MaxSuggestions = 100

// Aggregators is the fixed set offered in aggregation position.
var Aggregators = []string{"avg", "sum", "min", "max", "count"}

// Generate produces ranked completions for a parsed context. metrics is
// the full metric-name vocabulary; tags is the vocabulary matching the
// context - tag keys for key and grouping contexts, tag values (already
// scoped to Context.Metric and Context.TagKey by the caller) for value
// contexts. The output has unique labels and at most MaxSuggestions
// entries. Pure: identical inputs yield identical outputs.
func Generate(ctx Context, metrics, tags []string) []Completion {
	var out []Completion

	switch ctx.Kind {
	case KindAggregation:
		for _, agg := range Aggregators {
			if hasPrefixFold(agg, ctx.CurrentToken) {
				out = append(out, Completion{
					Label:      agg,
					InsertText: agg,
					Kind:       CompletionAggregation,
				})
			}
		}

	case KindMetric:
		out = metricCompletions(metrics, ctx.CurrentToken)

	case KindTagKey, KindFilterTagKey:
		existing := make(map[string]bool, len(ctx.ExistingTags))
		for _, k := range ctx.ExistingTags {
			existing[k] = true
		}
		for _, key := range tags {
			if existing[key] || !hasPrefixFold(key, ctx.CurrentToken) {
				continue
			}
			insert := key
			if !strings.HasSuffix(insert, ":") {
				insert += ":"
			}
			out = append(out, Completion{
				Label:      key,
				InsertText: insert,
				Kind:       CompletionTagKey,
			})
		}

	case KindGrouping:
		// grouping braces take bare tag keys, no colon and no exclusion
		for _, key := range tags {
			if hasPrefixFold(key, ctx.CurrentToken) {
				out = append(out, Completion{
					Label:      key,
					InsertText: key,
					Kind:       CompletionTagKey,
				})
			}
		}

	case KindTagValue, KindFilterTagValue:
		for _, value := range tags {
			if hasPrefixFold(value, ctx.CurrentToken) {
				out = append(out, Completion{
					Label:      value,
					InsertText: value,
					Kind:       CompletionTagValue,
				})
			}
		}
	}

	return capped(dedupe(out))
}

// metricCompletions matches metrics by prefix or substring. Prefix
// matches rank first; within a rank class the vocabulary order is kept,
// so only the match class participates in the sort.
func metricCompletions(metrics []string, token string) []Completion {
	lower := strings.ToLower(token)
	var out []Completion
	for _, m := range metrics {
		ml := strings.ToLower(m)
		var rank string
		switch {
		case lower == "" || strings.HasPrefix(ml, lower):
			rank = "0:" + ml
		case strings.Contains(ml, lower):
			rank = "1:" + ml
		default:
			continue
		}
		out = append(out, Completion{
			Label:      m,
			InsertText: m,
			Kind:       CompletionMetric,
			SortText:   rank,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortText[0] < out[j].SortText[0] })
	return out
}

// Group partitions completions by kind in the fixed priority order
// aggregation, metric, tag key, tag value. Empty groups are omitted and
// input order is preserved within each group.
func Group(items []Completion) []CompletionGroup {
	order := []struct {
		kind  CompletionKind
		label string
	}{
		{CompletionAggregation, "Aggregations"},
		{CompletionMetric, "Metrics"},
		{CompletionTagKey, "Tag Keys"},
		{CompletionTagValue, "Tag Values"},
	}

	var groups []CompletionGroup
	for _, g := range order {
		var members []Completion
		for _, item := range items {
			if item.Kind == g.kind {
				members = append(members, item)
			}
		}
		if len(members) > 0 {
			groups = append(groups, CompletionGroup{Label: g.label, Items: members})
		}
	}
	return groups
}

func hasPrefixFold(s, prefix string) bool {
	return prefix == "" || (len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix))
}

func dedupe(items []Completion) []Completion {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if seen[item.Label] {
			continue
		}
		seen[item.Label] = true
		out = append(out, item)
	}
	return out
}

func capped(items []Completion) []Completion {
	if len(items) > MaxSuggestions {
		return items[:MaxSuggestions]
	}
	return items
}

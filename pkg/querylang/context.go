// Package querylang implements the client-side front-end for Datadog's
// metric query syntax: cursor-position context classification, query
// validation, and completion generation. Everything in this package is
// pure and synchronous; fetching metric/tag vocabularies is the caller's
// concern.
//
// The grammar covered:
//
//	[aggregation:]metric_name{tag_key:tag_value[,tag_key:tag_value]...} [by {tag[,tag]...}]
//
// with boolean composition inside the filter braces using AND, OR,
// IN (v1,v2,...) and NOT IN (...).
package querylang

// ContextKind classifies what the user is positioned in at the cursor.
type ContextKind int

const (
	// KindAggregation - choosing or typing the aggregator (avg, sum, ...)
	KindAggregation ContextKind = iota

	// KindMetric - typing the metric name after the aggregator colon
	KindMetric

	// KindTagKey - typing the first tag key inside the filter braces
	KindTagKey

	// KindTagValue - typing the value of the first tag
	KindTagValue

	// KindFilterTagKey - typing a second or later tag key; suggestions
	// should exclude keys already present in the filter
	KindFilterTagKey

	// KindFilterTagValue - typing the value of a second or later tag
	KindFilterTagValue

	// KindGrouping - inside the "by {...}" braces
	KindGrouping

	// KindOther - outside any recognizable token boundary; no suggestions
	KindOther
)

func (k ContextKind) String() string {
	switch k {
	case KindAggregation:
		return "aggregation"
	case KindMetric:
		return "metric"
	case KindTagKey:
		return "tag_key"
	case KindTagValue:
		return "tag_value"
	case KindFilterTagKey:
		return "filter_tag_key"
	case KindFilterTagValue:
		return "filter_tag_value"
	case KindGrouping:
		return "grouping"
	default:
		return "other"
	}
}

// IsTagContext reports whether suggestions for this kind are scoped to a
// metric's tag vocabulary.
func (k ContextKind) IsTagContext() bool {
	switch k {
	case KindTagKey, KindTagValue, KindFilterTagKey, KindFilterTagValue:
		return true
	}
	return false
}

// IsValueContext reports whether the cursor sits in a tag value position.
func (k ContextKind) IsValueContext() bool {
	return k == KindTagValue || k == KindFilterTagValue
}

// Context is the parsed semantic state at a cursor position. It is
// recomputed from scratch on every input event and never mutated.
type Context struct {
	Kind   ContextKind
	Cursor int

	// CurrentToken is the substring being actively typed, used for
	// prefix filtering of suggestions.
	CurrentToken string

	// Metric is the metric the tag suggestions should be scoped to.
	// Non-empty iff Kind.IsTagContext().
	Metric string

	// TagKey is the key whose values are being typed. Set only in value
	// contexts, so the caller can scope a value fetch to metric+key.
	TagKey string

	// ExistingTags lists tag keys already present in the filter section,
	// in order of appearance, without the one under the cursor.
	ExistingTags []string

	// BooleanOperatorPending is true when the token preceding the cursor
	// is OR, AND, IN or NOT IN, meaning another tag value is expected
	// next rather than a fresh tag key.
	BooleanOperatorPending bool
}

package querylang

import (
	"fmt"
	"regexp"
	"strings"
)

// Problem is a single validation finding. Fix carries a human-actionable
// suggestion, not just a diagnostic.
type Problem struct {
	Message string `json:"message"`
	Fix     string `json:"fix"`
}

// Result is the outcome of validating a query. Valid is true exactly when
// Problems is empty.
type Result struct {
	Valid    bool      `json:"isValid"`
	Problems []Problem `json:"errors"`
}

var (
	metricNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
	tagKeyRe     = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	booleanOpRe  = regexp.MustCompile(`(?i)\b(or|and|not\s+in|in)\b`)
)

// Validate checks a Datadog metric query for well-formedness. It is
// synchronous, performs no I/O, and collects all findings rather than
// stopping at the first one. Mid-typing states the editor necessarily
// passes through (a trailing "key:" at the very end of the text) are not
// reported, so the user is not flashed errors while completing a tag.
func Validate(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return invalid(Problem{
			Message: "query is empty",
			Fix:     "enter a query like avg:system.cpu.user{host:myhost}",
		})
	}

	var problems []Problem

	opens, closes := countBraces(trimmed)
	activeTyping := strings.HasSuffix(trimmed, ":") && opens == closes+1
	if opens != closes && !activeTyping {
		fix := "close the filter section with '}'"
		if closes > opens {
			fix = "remove the extra '}'"
		}
		problems = append(problems, Problem{
			Message: fmt.Sprintf("unbalanced braces: %d opening, %d closing", opens, closes),
			Fix:     fix,
		})
	}

	problems = append(problems, validateMetric(trimmed)...)

	if section, ok := filterSection(trimmed); ok {
		problems = append(problems, validateFilter(trimmed, section)...)
	}

	problems = append(problems, validateGrouping(trimmed)...)

	return Result{Valid: len(problems) == 0, Problems: problems}
}

func invalid(p Problem) Result {
	return Result{Valid: false, Problems: []Problem{p}}
}

func countBraces(s string) (opens, closes int) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '{':
			if !inQuote {
				opens++
			}
		case '}':
			if !inQuote {
				closes++
			}
		}
	}
	return opens, closes
}

// MetricName extracts the metric name from a query, or "" when the query
// has none yet. Useful for scoping tag vocabulary fetches.
func MetricName(text string) string {
	head := text
	if b := strings.IndexByte(text, '{'); b >= 0 {
		head = text[:b]
	}
	if by := byKeywordAt(head); by >= 0 {
		head = head[:by]
	}
	if colon := strings.IndexByte(head, ':'); colon >= 0 {
		head = head[colon+1:]
	}
	return strings.TrimSpace(head)
}

// HasGrouping reports whether the query carries a "by {...}" clause.
func HasGrouping(text string) bool {
	return byKeywordAt(text) >= 0
}

// HasBooleanFilter reports whether the filter section uses boolean
// operators (OR/AND/IN) rather than a plain comma list.
func HasBooleanFilter(text string) bool {
	if section, ok := filterSection(text); ok {
		return booleanOpRe.MatchString(section)
	}
	return false
}

func validateMetric(text string) []Problem {
	metric := MetricName(text)
	if metric == "" {
		return []Problem{{
			Message: "missing metric name",
			Fix:     "add a metric after the aggregator, e.g. avg:system.cpu.user",
		}}
	}
	if !metricNameRe.MatchString(metric) {
		return []Problem{{
			Message: fmt.Sprintf("invalid metric name %q", metric),
			Fix:     "metric names may only contain letters, digits, '_', '.', ':' and '-'",
		}}
	}
	return nil
}

// filterSection returns the content of the first {...} section, skipping
// the braces of a bare grouping clause. An unclosed section runs to the
// end of the text.
func filterSection(text string) (string, bool) {
	open := strings.IndexByte(text, '{')
	if open < 0 {
		return "", false
	}
	if by := byKeywordAt(text); by >= 0 && by < open {
		return "", false
	}
	rest := text[open+1:]
	if close := strings.IndexByte(rest, '}'); close >= 0 {
		return rest[:close], true
	}
	return rest, true
}

func validateFilter(text, section string) []Problem {
	if booleanOpRe.MatchString(section) {
		// Boolean expressions are accepted with only a parenthesis
		// balance check; the full grammar is not validated client-side.
		if o, c := countParens(section); o != c {
			return []Problem{{
				Message: fmt.Sprintf("unbalanced parentheses in filter: %d opening, %d closing", o, c),
				Fix:     "match every '(' with a ')'",
			}}
		}
		return nil
	}

	var problems []Problem
	entries := splitTopLevel(section, ',')
	for i, raw := range entries {
		last := i == len(entries)-1
		entry := strings.TrimSpace(raw)
		if entry == "" {
			if last {
				continue // user just typed a comma
			}
			problems = append(problems, Problem{
				Message: "empty tag filter entry",
				Fix:     "remove the extra comma or add a key:value pair",
			})
			continue
		}
		if entry == "*" {
			continue
		}
		colon := colonOutsideQuotes(entry)
		if colon < 0 {
			problems = append(problems, Problem{
				Message: fmt.Sprintf("incomplete tag %q", entry),
				Fix:     "write tags as key:value, e.g. host:myhost",
			})
			continue
		}
		key := entry[:colon]
		value := entry[colon+1:]
		if key == "" {
			problems = append(problems, Problem{
				Message: "tag is missing its key",
				Fix:     "add a key before ':', e.g. host:" + value,
			})
			continue
		}
		if !tagKeyRe.MatchString(key) {
			problems = append(problems, Problem{
				Message: fmt.Sprintf("invalid tag key %q", key),
				Fix:     "tag keys may only contain letters, digits, '_', '.' and '-'",
			})
		}
		if value == "" {
			// Suppressed while the user is mid-typing: the raw text ends
			// exactly at this trailing colon.
			if last && strings.HasSuffix(strings.TrimSpace(text), entry) {
				continue
			}
			problems = append(problems, Problem{
				Message: fmt.Sprintf("tag %q has no value", key),
				Fix:     fmt.Sprintf("add a value after ':', or use %s:* to match all", key),
			})
		}
	}
	return problems
}

func countParens(s string) (opens, closes int) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				opens++
			}
		case ')':
			if !inQuote {
				closes++
			}
		}
	}
	return opens, closes
}

// validateGrouping checks a trailing " by {tag,...}" clause. The clause
// lives outside the filter braces; "by {}" is valid and means no grouping.
func validateGrouping(text string) []Problem {
	at := byKeywordAt(text)
	if at < 0 {
		return nil
	}
	rest := strings.TrimSpace(text[at+2:])
	if rest == "" || rest[0] != '{' {
		return []Problem{{
			Message: "grouping clause must be followed by braces",
			Fix:     "write grouping as: by {tag1,tag2}",
		}}
	}
	content := rest[1:]
	if end := strings.IndexByte(content, '}'); end >= 0 {
		content = content[:end]
	}
	var problems []Problem
	for _, raw := range splitTopLevel(content, ',') {
		tag := strings.TrimSpace(raw)
		if tag == "" || tag == "*" {
			continue
		}
		if !tagKeyRe.MatchString(tag) {
			problems = append(problems, Problem{
				Message: fmt.Sprintf("invalid grouping tag %q", tag),
				Fix:     "grouping tags may only contain letters, digits, '_', '.' and '-'",
			})
		}
	}
	return problems
}

// byKeywordAt returns the index of a standalone "by" keyword outside any
// brace section, or -1. A "by" inside an unclosed filter section does not
// count.
func byKeywordAt(text string) int {
	depth := 0
	inQuote := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			inQuote = !inQuote
		case '{':
			if !inQuote {
				depth++
			}
		case '}':
			if !inQuote && depth > 0 {
				depth--
			}
		case 'b', 'B':
			if inQuote || depth != 0 {
				continue
			}
			if i+2 > len(text) || !strings.EqualFold(text[i:i+2], "by") {
				continue
			}
			beforeOK := i == 0 || text[i-1] == ' ' || text[i-1] == '}'
			afterOK := i+2 == len(text) || text[i+2] == ' ' || text[i+2] == '{'
			if beforeOK && afterOK {
				return i
			}
		}
	}
	return -1
}

package querylang

import (
	"strings"
	"unicode"
)

// Parse classifies the cursor position within a Datadog metric query.
// It is total: any (text, cursor) pair yields a best-effort Context, and
// malformed or partially typed input never causes an error. The text up
// to the cursor is treated as authoritative; an unclosed brace section is
// assumed to continue to the cursor.
func Parse(text string, cursor int) Context {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(text) {
		cursor = len(text)
	}

	c := Context{Kind: KindAggregation, Cursor: cursor}
	if strings.TrimSpace(text) == "" {
		return c
	}

	if open := openBraceBefore(text, cursor); open >= 0 {
		if precededByBy(text, open) {
			c.Kind = KindGrouping
			c.CurrentToken = lastListToken(text[open+1 : cursor])
			return c
		}
		metric := metricBefore(text, open)
		if metric == "" {
			// a filter brace with no metric has no tag vocabulary to offer
			c.Kind = KindOther
			return c
		}
		parseFilterSection(&c, metric, text[open+1:cursor])
		return c
	}

	// Outside any braces. A closed filter section before the cursor means
	// the only meaningful continuation is a "by" clause, which is handled
	// above once its brace opens; everything else is no-man's-land.
	if strings.Contains(text[:cursor], "}") {
		c.Kind = KindOther
		return c
	}

	colon := aggregatorColon(text)
	if colon < 0 || cursor <= colon {
		c.Kind = KindAggregation
		tok := text[:cursor]
		if colon >= 0 && cursor > colon {
			tok = text[:colon]
		}
		c.CurrentToken = strings.TrimSpace(tok)
		return c
	}

	c.Kind = KindMetric
	c.CurrentToken = strings.TrimSpace(text[colon+1 : cursor])
	return c
}

// aggregatorColon returns the index of the colon separating the
// aggregator from the metric name, or -1. Only a colon before the first
// opening brace qualifies.
func aggregatorColon(text string) int {
	head := text
	if b := strings.IndexByte(text, '{'); b >= 0 {
		head = text[:b]
	}
	return strings.IndexByte(head, ':')
}

// openBraceBefore returns the index of the innermost unmatched '{' before
// the cursor, ignoring braces inside double quotes. Returns -1 when the
// cursor is outside all brace sections.
func openBraceBefore(text string, cursor int) int {
	var stack []int
	inQuote := false
	for i := 0; i < cursor; i++ {
		switch text[i] {
		case '"':
			inQuote = !inQuote
		case '{':
			if !inQuote {
				stack = append(stack, i)
			}
		case '}':
			if !inQuote && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return -1
	}
	return stack[len(stack)-1]
}

// precededByBy reports whether the brace at open belongs to a grouping
// clause, i.e. the preceding word is "by".
func precededByBy(text string, open int) bool {
	i := open - 1
	for i >= 0 && unicode.IsSpace(rune(text[i])) {
		i--
	}
	end := i + 1
	for i >= 0 && unicode.IsLetter(rune(text[i])) {
		i--
	}
	if !strings.EqualFold(text[i+1:end], "by") {
		return false
	}
	// "requests.by{" is a metric name ending in "by", not a grouping clause
	return i < 0 || unicode.IsSpace(rune(text[i]))
}

// metricBefore extracts the metric name from the text preceding the
// filter brace, stripping the aggregator prefix when present.
func metricBefore(text string, open int) string {
	head := text[:open]
	if colon := strings.IndexByte(head, ':'); colon >= 0 {
		head = head[colon+1:]
	}
	return strings.TrimSpace(head)
}

// lastListToken returns the partial token after the last comma of a
// brace-enclosed comma list.
func lastListToken(section string) string {
	if i := strings.LastIndexByte(section, ','); i >= 0 {
		section = section[i+1:]
	}
	return strings.TrimSpace(section)
}

// parseFilterSection classifies a cursor inside the filter braces.
// section is the text from just after '{' up to the cursor.
func parseFilterSection(c *Context, metric, section string) {
	c.Metric = metric

	entries := splitTopLevel(section, ',')
	for _, e := range entries[:len(entries)-1] {
		c.ExistingTags = appendKeys(c.ExistingTags, e)
	}
	first := len(entries) == 1
	analyzeEntry(c, entries[len(entries)-1], first)
}

func keyKind(first bool) ContextKind {
	if first {
		return KindTagKey
	}
	return KindFilterTagKey
}

func valueKind(first bool) ContextKind {
	if first {
		return KindTagValue
	}
	return KindFilterTagValue
}

// analyzeEntry decides key vs value position within the entry holding the
// cursor. The entry text always ends at the cursor.
func analyzeEntry(c *Context, entry string, first bool) {
	// Inside an IN (...) value list: everything after the open paren (and
	// after each comma within it) is a value position for the key that
	// precedes IN.
	if unmatchedParen(entry) {
		c.Kind = valueKind(first)
		c.TagKey = keyBeforeIN(entry)
		c.BooleanOperatorPending = true
		c.CurrentToken = afterLastValueDelim(entry)
		return
	}

	words := fieldsQuoted(entry)
	endsWithSpace := entry != "" && unicode.IsSpace(rune(entry[len(entry)-1]))

	if len(words) == 0 {
		c.Kind = keyKind(first)
		return
	}

	last := words[len(words)-1]

	if endsWithSpace {
		// The last word is complete; a boolean operator means a value
		// (or key:value continuation) comes next.
		if isBooleanOperator(last) {
			c.Kind = valueKind(first)
			c.BooleanOperatorPending = true
			c.TagKey = lastKeyIn(words)
			return
		}
		c.Kind = keyKind(first)
		return
	}

	if colon := colonOutsideQuotes(last); colon >= 0 {
		c.Kind = valueKind(first)
		c.TagKey = last[:colon]
		c.CurrentToken = trimQuotes(last[colon+1:])
		if len(words) >= 2 && isBooleanOperator(words[len(words)-2]) {
			c.BooleanOperatorPending = true
		}
		return
	}

	// A bare partial word. Right after a boolean operator the grammar
	// expects the next comparison, which starts with a tag key, but the
	// operator context is preserved so callers can bias suggestions.
	if len(words) >= 2 && isBooleanOperator(words[len(words)-2]) {
		c.Kind = valueKind(first)
		c.BooleanOperatorPending = true
		c.TagKey = lastKeyIn(words[:len(words)-1])
		c.CurrentToken = last
		return
	}

	c.Kind = keyKind(first)
	c.CurrentToken = last
}

func isBooleanOperator(w string) bool {
	switch strings.ToUpper(w) {
	case "OR", "AND", "IN":
		return true
	}
	return false
}

// appendKeys collects the tag keys appearing in a completed filter entry,
// deduplicated against what is already recorded.
func appendKeys(keys []string, entry string) []string {
	for _, w := range fieldsQuoted(entry) {
		var key string
		if colon := colonOutsideQuotes(w); colon > 0 {
			key = w[:colon]
		} else if w != "*" && !isBooleanOperator(w) && !strings.EqualFold(w, "NOT") &&
			!strings.ContainsAny(w, "()") {
			// bare identifier, as in "host IN (...)"
			key = w
		}
		if key == "" || containsString(keys, key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// lastKeyIn returns the most recent tag key among the words, so a value
// typed after OR/AND/IN can be scoped to it.
func lastKeyIn(words []string) string {
	for i := len(words) - 1; i >= 0; i-- {
		if colon := colonOutsideQuotes(words[i]); colon > 0 {
			return words[i][:colon]
		}
	}
	// "key IN (" style: the key is the word before the operator
	for i := len(words) - 1; i >= 0; i-- {
		w := words[i]
		if !isBooleanOperator(w) && !strings.EqualFold(w, "NOT") && w != "*" {
			return strings.TrimSuffix(w, ":")
		}
	}
	return ""
}

// keyBeforeIN extracts the key from "key IN (..." / "key NOT IN (...".
func keyBeforeIN(entry string) string {
	head := entry
	if i := strings.IndexByte(entry, '('); i >= 0 {
		head = entry[:i]
	}
	words := fieldsQuoted(head)
	for len(words) > 0 {
		last := words[len(words)-1]
		if isBooleanOperator(last) || strings.EqualFold(last, "NOT") {
			words = words[:len(words)-1]
			continue
		}
		return strings.TrimSuffix(last, ":")
	}
	return ""
}

// afterLastValueDelim returns the partial value after the last '(' or ','
// inside an IN list.
func afterLastValueDelim(entry string) string {
	cut := -1
	inQuote := false
	for i := 0; i < len(entry); i++ {
		switch entry[i] {
		case '"':
			inQuote = !inQuote
		case '(', ',':
			if !inQuote {
				cut = i
			}
		}
	}
	return strings.TrimSpace(trimQuotes(entry[cut+1:]))
}

// unmatchedParen reports whether the entry has an open '(' without its ')'.
func unmatchedParen(s string) bool {
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote && depth > 0 {
				depth--
			}
		}
	}
	return depth > 0
}

// colonOutsideQuotes returns the index of the first ':' in w that is not
// inside double quotes, or -1.
func colonOutsideQuotes(w string) int {
	inQuote := false
	for i := 0; i < len(w); i++ {
		switch w[i] {
		case '"':
			inQuote = !inQuote
		case ':':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s on sep, ignoring separators inside double quotes
// or parentheses. The result always has at least one element; a trailing
// separator yields a trailing empty element.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote && depth > 0 {
				depth--
			}
		case sep:
			if !inQuote && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// fieldsQuoted splits on whitespace but keeps double-quoted regions
// intact, so a value like host:"web 01" stays one word.
func fieldsQuoted(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func trimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/wasilak/datadog-datasource/pkg/querylang"
)

// finding pairs a query extracted from a manifest with its validation
// problems (empty when the query is valid).
type finding struct {
	query    string
	problems []querylang.Problem
}

// lintFile extracts and validates every metric query in a YAML file.
// Multi-document files are supported.
func lintFile(path string) ([]finding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var findings []finding
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	for {
		var doc map[interface{}]interface{}
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, query := range extractQueries(doc) {
			result := querylang.Validate(query)
			findings = append(findings, finding{query: query, problems: result.Problems})
		}
	}
	return findings, nil
}

// extractQueries pulls metric queries out of a manifest document. Both
// the monitor layout (spec.query) and a bare top-level query key are
// recognized.
func extractQueries(doc map[interface{}]interface{}) []string {
	var queries []string

	if q, ok := doc["query"].(string); ok && q != "" {
		queries = append(queries, q)
	}
	if spec, ok := doc["spec"].(map[interface{}]interface{}); ok {
		if q, ok := spec["query"].(string); ok && q != "" {
			queries = append(queries, q)
		}
	}
	return queries
}

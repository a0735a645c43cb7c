package ddapi

import (
	"context"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

const (
	logsPageSize = 1000
	logsMaxPages = 5
)

// SearchLogs runs a log search over [from, to] (unix millis), following
// pagination cursors up to logsMaxPages pages so a broad query cannot
// pull an unbounded result set.
func (c *Client) SearchLogs(ctx context.Context, query string, from, to int64) ([]datadogV2.Log, error) {
	logger := log.New()

	fromStr := time.UnixMilli(from).UTC().Format(time.RFC3339)
	toStr := time.UnixMilli(to).UTC().Format(time.RFC3339)
	sort := datadogV2.LOGSSORT_TIMESTAMP_ASCENDING
	limit := int32(logsPageSize)

	var (
		entries []datadogV2.Log
		cursor  *string
	)
	for page := 0; page < logsMaxPages; page++ {
		body := datadogV2.LogsListRequest{
			Filter: &datadogV2.LogsQueryFilter{
				Query: &query,
				From:  &fromStr,
				To:    &toStr,
			},
			Page: &datadogV2.LogsListRequestPage{
				Limit:  &limit,
				Cursor: cursor,
			},
			Sort: &sort,
		}

		resp, httpResp, err := c.logs.ListLogs(c.authContext(ctx),
			*datadogV2.NewListLogsOptionalParameters().WithBody(body))
		if err != nil {
			logger.Error("ListLogs API call failed", "error", err, "query", query, "page", page)
			return nil, classify(err, httpResp)
		}

		entries = append(entries, resp.GetData()...)

		meta := resp.GetMeta()
		pageMeta := meta.GetPage()
		after, ok := pageMeta.GetAfterOk()
		if !ok || after == nil || *after == "" {
			break
		}
		cursor = after
	}

	logger.Debug("Log search complete", "query", query, "entries", len(entries))
	return entries, nil
}

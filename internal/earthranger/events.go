package earthranger

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"patrol-export/internal/patrol"
)

// maxIDsPerRequest bounds the event_ids parameter of one detail request.
const maxIDsPerRequest = 100

// ListSegmentEvents lists the events linked to a patrol segment.
func (c *Client) ListSegmentEvents(ctx context.Context, segmentID string) ([]patrol.EventRecord, error) {
	path := "activity/patrols/segments/" + url.PathEscape(segmentID) + "/events/"
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.pageSize))
	events, err := list[patrol.EventRecord](ctx, c, path, params)
	if err != nil {
		return nil, fmt.Errorf("list events of segment %s: %w", segmentID, err)
	}
	return events, nil
}

// FetchEventDetails fetches the event_details of the given events. Large id
// sets are split over several requests.
func (c *Client) FetchEventDetails(ctx context.Context, eventIDs []string) ([]patrol.EventDetail, error) {
	var out []patrol.EventDetail
	for start := 0; start < len(eventIDs); start += maxIDsPerRequest {
		end := min(start+maxIDsPerRequest, len(eventIDs))
		params := url.Values{}
		params.Set("event_ids", strings.Join(eventIDs[start:end], ","))
		params.Set("include_details", "true")
		params.Set("page_size", strconv.Itoa(c.pageSize))
		details, err := list[patrol.EventDetail](ctx, c, "activity/events", params)
		if err != nil {
			return nil, fmt.Errorf("fetch event details: %w", err)
		}
		out = append(out, details...)
	}
	return out, nil
}

package earthranger

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"patrol-export/internal/fieldx"
	"patrol-export/internal/patrol"
)

// filterTimeLayout is the timestamp format of the patrols date_range filter.
const filterTimeLayout = "2006-01-02T15:04:05.000000Z"

// PatrolType is an entry of the patrol type catalogue.
type PatrolType struct {
	ID      string `json:"id"`
	Value   string `json:"value"`
	Display string `json:"display"`
}

type typeCache struct {
	mu     sync.Mutex
	loaded bool
	types  []PatrolType
}

// PatrolTypes returns the site's patrol types. The list is fetched once per
// client.
func (c *Client) PatrolTypes(ctx context.Context) ([]PatrolType, error) {
	c.types.mu.Lock()
	defer c.types.mu.Unlock()
	if c.types.loaded {
		return c.types.types, nil
	}
	types, err := list[PatrolType](ctx, c, "activity/patrols/types", nil)
	if err != nil {
		return nil, fmt.Errorf("list patrol types: %w", err)
	}
	c.types.types, c.types.loaded = types, true
	return types, nil
}

// patrolDTO is a patrol as delivered by the API. serial_number is numeric
// on most sites.
type patrolDTO struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	SerialNumber any                    `json:"serial_number"`
	State        string                 `json:"state"`
	Segments     []patrol.PatrolSegment `json:"patrol_segments"`
}

func (d patrolDTO) record() patrol.PatrolRecord {
	sn, _ := fieldx.Scalar(d.SerialNumber)
	return patrol.PatrolRecord{
		ID:           d.ID,
		Title:        d.Title,
		SerialNumber: sn,
		State:        d.State,
		Segments:     d.Segments,
	}
}

type patrolFilter struct {
	DateRange  *dateRange `json:"date_range,omitempty"`
	PatrolType []string   `json:"patrol_type,omitempty"`
}

type dateRange struct {
	Lower string `json:"lower,omitempty"`
	Upper string `json:"upper,omitempty"`
}

// ListPatrols lists patrols overlapping the filter window with one of the
// requested states. A patrol type is given as its value and resolved to the
// site's type id.
func (c *Client) ListPatrols(ctx context.Context, f patrol.PatrolFilter) ([]patrol.PatrolRecord, error) {
	var pf patrolFilter
	if !f.Since.IsZero() || !f.Until.IsZero() {
		pf.DateRange = &dateRange{}
		if !f.Since.IsZero() {
			pf.DateRange.Lower = f.Since.UTC().Format(filterTimeLayout)
		}
		if !f.Until.IsZero() {
			pf.DateRange.Upper = f.Until.UTC().Format(filterTimeLayout)
		}
	}
	if f.PatrolType != "" {
		types, err := c.PatrolTypes(ctx)
		if err != nil {
			return nil, err
		}
		id := ""
		for _, t := range types {
			if t.Value == f.PatrolType || t.ID == f.PatrolType {
				id = t.ID
				break
			}
		}
		if id == "" {
			return nil, fmt.Errorf("%w: unknown patrol type %q", patrol.ErrNoMatchingPatrols, f.PatrolType)
		}
		pf.PatrolType = []string{id}
	}

	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.pageSize))
	if pf.DateRange != nil || len(pf.PatrolType) > 0 {
		b, err := json.Marshal(pf)
		if err != nil {
			return nil, err
		}
		params.Set("filter", string(b))
	}
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = patrol.DefaultStatuses
	}
	for _, s := range statuses {
		params.Add("status", s)
	}

	dtos, err := list[patrolDTO](ctx, c, "activity/patrols", params)
	if err != nil {
		return nil, fmt.Errorf("list patrols: %w", err)
	}
	out := make([]patrol.PatrolRecord, len(dtos))
	for i, d := range dtos {
		out[i] = d.record()
	}
	return out, nil
}

type observation struct {
	ID       string `json:"id"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	RecordedAt patrol.Stamp `json:"recorded_at"`
}

// ListObservations fetches the leader's fixes for every segment of every
// patrol and copies the patrol's identity and segment bounds onto each point.
// Segments without a leader subject have no track and are skipped.
func (c *Client) ListObservations(ctx context.Context, patrols []patrol.PatrolRecord) ([]patrol.ObservationPoint, error) {
	types, err := c.PatrolTypes(ctx)
	if err != nil {
		// Display names are optional.
		c.log.Warn("patrol types unavailable", "err", err)
	}
	display := make(map[string]string, len(types))
	for _, t := range types {
		display[t.Value] = t.Display
	}

	var out []patrol.ObservationPoint
	for _, p := range patrols {
		for _, seg := range p.Segments {
			doc := map[string]any(seg)
			subjectID := fieldx.FirstString(doc, fieldx.Parse("leader.id"))
			if subjectID == "" {
				continue
			}
			start, end := seg.Bounds()
			params := url.Values{}
			params.Set("subject_id", subjectID)
			params.Set("page_size", strconv.Itoa(c.pageSize))
			if t, ok, _ := start.UTC(); ok {
				params.Set("since", t.Format(time.RFC3339))
			}
			if t, ok, _ := end.UTC(); ok {
				params.Set("until", t.Format(time.RFC3339))
			}
			obs, err := list[observation](ctx, c, "observations", params)
			if err != nil {
				return nil, fmt.Errorf("list observations for patrol %s: %w", p.ID, err)
			}

			typeValue := fieldx.FirstString(doc, fieldx.Parse("patrol_type"), fieldx.Parse("patrol_type.value"))
			base := patrol.ObservationPoint{
				PatrolID:          p.ID,
				SegmentID:         seg.ID(),
				PatrolSerial:      p.SerialNumber,
				PatrolTitle:       p.Title,
				PatrolTypeValue:   typeValue,
				PatrolTypeDisplay: display[typeValue],
				SubjectID:         subjectID,
				SubjectName:       fieldx.FirstString(doc, fieldx.Parse("leader.name"), fieldx.Parse("leader.username")),
				PatrolStart:       start,
				PatrolEnd:         end,
			}
			for _, o := range obs {
				pt := base
				pt.Lon, pt.Lat = o.Location.Longitude, o.Location.Latitude
				pt.RecordedAt = o.RecordedAt
				out = append(out, pt)
			}
		}
	}
	return out, nil
}

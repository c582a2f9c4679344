// Package availability produces conflict verdicts against the calendar backend.
package availability

import (
	"context"

	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/model"
)

// Verdict is the result of a conflict check for one interval.
type Verdict struct {
	Free        bool                  `json:"free"`
	Overlapping []model.CalendarEvent `json:"overlapping,omitempty"`
}

// Checker queries the backend for overlapping commitments.
type Checker struct {
	backend calendar.Backend
}

func NewChecker(b calendar.Backend) *Checker {
	return &Checker{backend: b}
}

// Check lists the events around the interval and keeps those sharing an open
// sub-interval of positive duration with it. Touching endpoints are not
// conflicts, so an event ending exactly at interval.Start is dropped even
// when the backend's listing window returned it.
func (c *Checker) Check(ctx context.Context, calendarID string, interval model.ResolvedInterval) (Verdict, error) {
	events, err := c.backend.ListEvents(ctx, calendarID, interval.Start, interval.End)
	if err != nil {
		return Verdict{}, err
	}
	var overlapping []model.CalendarEvent
	for _, ev := range events {
		if interval.Overlaps(ev.Start, ev.End) {
			overlapping = append(overlapping, ev)
		}
	}
	return Verdict{Free: len(overlapping) == 0, Overlapping: overlapping}, nil
}

// Agenda lists the user's commitments inside the window, capped at limit.
func (c *Checker) Agenda(ctx context.Context, calendarID string, window model.ResolvedInterval, limit int) ([]model.CalendarEvent, error) {
	events, err := c.backend.ListEvents(ctx, calendarID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

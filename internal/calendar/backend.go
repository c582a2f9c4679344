// Package calendar defines the boundary to the external calendar backend.
package calendar

import (
	"context"
	"time"

	"github.com/sekretaria/agenda/internal/model"
)

// EventChanges carries the fields an update may touch. Nil means unchanged.
type EventChanges struct {
	Title    *string    `json:"title,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Location *string    `json:"location,omitempty"`
}

// EventInput describes a new event to create.
type EventInput struct {
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TimeZone     string    `json:"timeZone"`
	Location     string    `json:"location,omitempty"`
	Description  string    `json:"description,omitempty"`
	Participants []string  `json:"participants,omitempty"`
}

// Backend is the calendar service consumed by the orchestrator. Every
// mutation takes an idempotency key derived from the request fingerprint;
// the backend must treat a repeated key as the same operation and never
// apply it twice.
type Backend interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error)
	Create(ctx context.Context, calendarID string, in EventInput, idempotencyKey string) (model.CalendarEvent, error)
	Update(ctx context.Context, calendarID, eventRef string, ch EventChanges, idempotencyKey string) (model.CalendarEvent, error)
	Delete(ctx context.Context, calendarID, eventRef string, idempotencyKey string) error
}

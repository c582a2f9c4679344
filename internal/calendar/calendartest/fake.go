// Package calendartest provides an in-memory calendar backend for tests.
package calendartest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/model"
)

// Fake is an in-memory calendar.Backend. It honors idempotency keys the way
// the real backend is required to: a repeated key replays the recorded
// result instead of applying the mutation again. Errors can be scripted per
// mutation call via FailWith.
type Fake struct {
	mu      sync.Mutex
	nextID  int
	events  map[string]map[string]model.CalendarEvent // calendarID -> eventRef -> event
	applied map[string]model.CalendarEvent            // idempotencyKey -> recorded result

	// FailWith is consumed one error per mutation call, front to back.
	FailWith []error

	Creates int
	Updates int
	Deletes int
}

func New() *Fake {
	return &Fake{
		events:  make(map[string]map[string]model.CalendarEvent),
		applied: make(map[string]model.CalendarEvent),
	}
}

// Seed places an event directly into a calendar and returns its reference.
func (f *Fake) Seed(calendarID, title string, start, end time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := fmt.Sprintf("evt-%d", f.nextID)
	if f.events[calendarID] == nil {
		f.events[calendarID] = make(map[string]model.CalendarEvent)
	}
	f.events[calendarID][ref] = model.CalendarEvent{
		EventRef: ref, Title: title, Start: start, End: end, Status: "confirmed",
	}
	return ref
}

func (f *Fake) nextErr() error {
	if len(f.FailWith) == 0 {
		return nil
	}
	err := f.FailWith[0]
	f.FailWith = f.FailWith[1:]
	return err
}

func (f *Fake) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CalendarEvent
	for _, ev := range f.events[calendarID] {
		if ev.Start.Before(end) && start.Before(ev.End) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *Fake) Create(ctx context.Context, calendarID string, in calendar.EventInput, idempotencyKey string) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.applied[idempotencyKey]; ok {
		return ev, nil
	}
	if err := f.nextErr(); err != nil {
		return model.CalendarEvent{}, err
	}
	f.Creates++
	f.nextID++
	ref := fmt.Sprintf("evt-%d", f.nextID)
	if f.events[calendarID] == nil {
		f.events[calendarID] = make(map[string]model.CalendarEvent)
	}
	ev := model.CalendarEvent{
		EventRef: ref, Title: in.Title, Start: in.Start, End: in.End,
		Location: in.Location, Status: "confirmed",
	}
	f.events[calendarID][ref] = ev
	f.applied[idempotencyKey] = ev
	return ev, nil
}

func (f *Fake) Update(ctx context.Context, calendarID, eventRef string, ch calendar.EventChanges, idempotencyKey string) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.applied[idempotencyKey]; ok {
		return ev, nil
	}
	if err := f.nextErr(); err != nil {
		return model.CalendarEvent{}, err
	}
	ev, ok := f.events[calendarID][eventRef]
	if !ok {
		return model.CalendarEvent{}, fmt.Errorf("%w: event %s", model.ErrNotFound, eventRef)
	}
	f.Updates++
	if ch.Title != nil {
		ev.Title = *ch.Title
	}
	if ch.Start != nil {
		ev.Start = *ch.Start
	}
	if ch.End != nil {
		ev.End = *ch.End
	}
	if ch.Location != nil {
		ev.Location = *ch.Location
	}
	f.events[calendarID][eventRef] = ev
	f.applied[idempotencyKey] = ev
	return ev, nil
}

func (f *Fake) Delete(ctx context.Context, calendarID, eventRef string, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.applied[idempotencyKey]; ok {
		return nil
	}
	if err := f.nextErr(); err != nil {
		return err
	}
	if _, ok := f.events[calendarID][eventRef]; !ok {
		return fmt.Errorf("%w: event %s", model.ErrNotFound, eventRef)
	}
	f.Deletes++
	delete(f.events[calendarID], eventRef)
	f.applied[idempotencyKey] = model.CalendarEvent{EventRef: eventRef}
	return nil
}

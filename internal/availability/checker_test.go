package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekretaria/agenda/internal/calendar/calendartest"
	"github.com/sekretaria/agenda/internal/model"
)

func interval(start, end time.Time) model.ResolvedInterval {
	return model.ResolvedInterval{Start: start, End: end, TimeZone: "UTC"}
}

func TestCheck_OverlapIsConflict(t *testing.T) {
	fake := calendartest.New()
	base := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	fake.Seed("cal", "checkup", base, base.Add(time.Hour))

	// [10:30, 11:30) against [10:00, 11:00): shared open sub-interval.
	v, err := NewChecker(fake).Check(context.Background(), "cal",
		interval(base.Add(30*time.Minute), base.Add(90*time.Minute)))
	require.NoError(t, err)
	assert.False(t, v.Free)
	require.Len(t, v.Overlapping, 1)
	assert.Equal(t, "checkup", v.Overlapping[0].Title)
}

func TestCheck_TouchingEndpointsAreNotConflicts(t *testing.T) {
	fake := calendartest.New()
	base := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	fake.Seed("cal", "before", base.Add(-time.Hour), base)
	fake.Seed("cal", "after", base.Add(time.Hour), base.Add(2*time.Hour))

	v, err := NewChecker(fake).Check(context.Background(), "cal",
		interval(base, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, v.Free, "events touching at the endpoints must not conflict")
	assert.Empty(t, v.Overlapping)
}

func TestCheck_Containment(t *testing.T) {
	fake := calendartest.New()
	base := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	fake.Seed("cal", "long block", base, base.Add(4*time.Hour))

	v, err := NewChecker(fake).Check(context.Background(), "cal",
		interval(base.Add(time.Hour), base.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.False(t, v.Free)
}

func TestAgenda_WindowAndLimit(t *testing.T) {
	fake := calendartest.New()
	base := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		fake.Seed("cal", "slot", base.Add(time.Duration(i)*time.Hour), base.Add(time.Duration(i)*time.Hour+30*time.Minute))
	}
	fake.Seed("cal", "outside", base.AddDate(0, 0, 3), base.AddDate(0, 0, 3).Add(time.Hour))

	events, err := NewChecker(fake).Agenda(context.Background(), "cal",
		interval(base, base.AddDate(0, 0, 1)), 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	// Ordered by start time.
	assert.True(t, events[0].Start.Before(events[1].Start))
}

// Package temporal turns partial date/time expressions into concrete intervals.
//
// Resolution is a pure function of (reference, default timezone, now). The
// orchestrator fixes the "now" anchor once per request so retries can never
// resolve a relative phrase differently.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sekretaria/agenda/internal/model"
)

// DefaultDurationMinutes is applied when a reference names a start but no end.
const DefaultDurationMinutes = 60

// AmbiguityError reports an input the resolver refused to guess.
type AmbiguityError struct {
	Field model.AmbiguityField
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous time reference: missing %s", e.Field)
}

// weekday names accepted in relative phrases, Spanish and English.
var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "sunday": time.Sunday,
	"lunes": time.Monday, "monday": time.Monday,
	"martes": time.Tuesday, "tuesday": time.Tuesday,
	"miercoles": time.Wednesday, "miércoles": time.Wednesday, "wednesday": time.Wednesday,
	"jueves": time.Thursday, "thursday": time.Thursday,
	"viernes": time.Friday, "friday": time.Friday,
	"sabado": time.Saturday, "sábado": time.Saturday, "saturday": time.Saturday,
}

var months = map[string]time.Month{
	"enero": time.January, "january": time.January,
	"febrero": time.February, "february": time.February,
	"marzo": time.March, "march": time.March,
	"abril": time.April, "april": time.April,
	"mayo": time.May, "may": time.May,
	"junio": time.June, "june": time.June,
	"julio": time.July, "july": time.July,
	"agosto": time.August, "august": time.August,
	"septiembre": time.September, "setiembre": time.September, "september": time.September,
	"octubre": time.October, "october": time.October,
	"noviembre": time.November, "november": time.November,
	"diciembre": time.December, "december": time.December,
}

var (
	reISODate   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reDayMonth  = regexp.MustCompile(`^(\d{1,2})\s+de\s+([a-záéíóúñ]+)$`)
	reSlashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{4}))?$`)
	reClock     = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// Resolve produces a concrete half-open interval from a possibly-partial
// reference. Missing year defaults to the current year at now; missing
// timezone defaults to defaultTZ; when defaultTZ is also empty the resolver
// returns an AmbiguityError rather than guessing. Identical inputs always
// yield identical output.
func Resolve(ref model.TimeReference, defaultTZ string, now time.Time) (model.ResolvedInterval, error) {
	loc, defaulted, err := resolveZone(ref.TimeZone, defaultTZ)
	if err != nil {
		return model.ResolvedInterval{}, err
	}

	day, dayDefaulted, err := resolveDate(ref.Date, now.In(loc))
	if err != nil {
		return model.ResolvedInterval{}, err
	}

	hour, minute, err := resolveClock(ref.Time)
	if err != nil {
		return model.ResolvedInterval{}, err
	}

	dur := ref.DurationMinutes
	if dur <= 0 {
		dur = DefaultDurationMinutes
		defaulted = true
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	out := model.ResolvedInterval{
		Start:      start,
		End:        start.Add(time.Duration(dur) * time.Minute),
		TimeZone:   loc.String(),
		Confidence: model.ConfidenceExact,
	}
	if defaulted || dayDefaulted {
		out.Confidence = model.ConfidenceDefaulted
	}
	return out, nil
}

// ResolveDay produces the whole-day window for a date expression, for agenda
// queries that name a day but no time. An empty expression means today.
func ResolveDay(dateExpr, defaultTZ string, now time.Time) (model.ResolvedInterval, error) {
	loc, _, err := resolveZone("", defaultTZ)
	if err != nil {
		return model.ResolvedInterval{}, err
	}
	local := now.In(loc)
	day := local
	dayDefaulted := true
	if strings.TrimSpace(dateExpr) != "" {
		day, dayDefaulted, err = resolveDate(dateExpr, local)
		if err != nil {
			return model.ResolvedInterval{}, err
		}
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	out := model.ResolvedInterval{
		Start:      start,
		End:        start.AddDate(0, 0, 1),
		TimeZone:   loc.String(),
		Confidence: model.ConfidenceExact,
	}
	if dayDefaulted {
		out.Confidence = model.ConfidenceDefaulted
	}
	return out, nil
}

func resolveZone(refTZ, defaultTZ string) (*time.Location, bool, error) {
	tz := strings.TrimSpace(refTZ)
	defaulted := false
	if tz == "" {
		tz = strings.TrimSpace(defaultTZ)
		defaulted = true
	}
	if tz == "" {
		return nil, false, &AmbiguityError{Field: model.AmbiguityTimeZone}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, false, fmt.Errorf("%w: unknown timezone %q", model.ErrValidation, tz)
	}
	return loc, defaulted, nil
}

// resolveDate returns the calendar day named by expr, anchored at local now.
// The bool result reports whether any defaulting (year, relative phrase)
// was applied.
func resolveDate(expr string, now time.Time) (time.Time, bool, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return time.Time{}, false, &AmbiguityError{Field: model.AmbiguityDate}
	}

	switch s {
	case "hoy", "today":
		return now, true, nil
	case "mañana", "manana", "tomorrow":
		return now.AddDate(0, 0, 1), true, nil
	case "pasado mañana", "pasado manana", "day after tomorrow":
		return now.AddDate(0, 0, 2), true, nil
	}

	// "el viernes", "next friday", "próximo martes"
	for _, prefix := range []string{"el ", "next ", "próximo ", "proximo ", "este "} {
		s = strings.TrimPrefix(s, prefix)
	}
	if wd, ok := weekdays[s]; ok {
		delta := (int(wd) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return now.AddDate(0, 0, delta), true, nil
	}

	if m := reISODate.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if err := validateDay(year, time.Month(month), day); err != nil {
			return time.Time{}, false, err
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location()), false, nil
	}

	// "7 de enero", year defaults to the current calendar year.
	if m := reDayMonth.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, ok := months[m[2]]
		if !ok {
			return time.Time{}, false, fmt.Errorf("%w: unknown month %q", model.ErrValidation, m[2])
		}
		if err := validateDay(now.Year(), month, day); err != nil {
			return time.Time{}, false, err
		}
		return time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location()), true, nil
	}

	// "7/1" or "7/1/2026", day-first.
	if m := reSlashDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := now.Year()
		defaulted := true
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			defaulted = false
		}
		if err := validateDay(year, time.Month(month), day); err != nil {
			return time.Time{}, false, err
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location()), defaulted, nil
	}

	return time.Time{}, false, fmt.Errorf("%w: unparseable date %q", model.ErrValidation, expr)
}

func resolveClock(expr string) (int, int, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return 0, 0, &AmbiguityError{Field: model.AmbiguityTime}
	}
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: unparseable time %q", model.ErrValidation, expr)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("%w: invalid 12h hour %q", model.ErrValidation, expr)
		}
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("%w: invalid 12h hour %q", model.ErrValidation, expr)
		}
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid time %q", model.ErrValidation, expr)
	}
	return hour, minute, nil
}

func validateDay(year int, month time.Month, day int) error {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return fmt.Errorf("%w: invalid date", model.ErrValidation)
	}
	// Reject normalized overflow such as Feb 30.
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Month() != month || d.Day() != day {
		return fmt.Errorf("%w: invalid date", model.ErrValidation)
	}
	return nil
}

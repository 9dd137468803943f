// Package schedule turns an event's date and free-form time description
// into a concrete time window, and answers whether an event is still live.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mealshare/internal/models"
)

// TimeWindow is derived on demand from an event's schedule fields and is
// never persisted.
type TimeWindow struct {
	Start time.Time
	End   *time.Time
}

var ErrUnparseable = errors.New("unparseable schedule")

const dateLayout = "2006-01-02"

// Resolve parses a calendar date ("2025-03-01") plus a time expression of
// the forms "H[:MM] [AM|PM]" or "H[:MM][AM|PM] - H[:MM][AM|PM]".
//
// When a clock carries no AM/PM marker, hour >= 8 is treated as PM and
// anything earlier as AM. Campus events cluster in the evening, so "9:00"
// means 9 PM here; a morning event after 8 AM must say "AM" explicitly.
func Resolve(dateField, timeField string) (TimeWindow, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(dateField), time.Local)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("%w: bad date %q", ErrUnparseable, dateField)
	}

	parts := strings.SplitN(timeField, "-", 2)

	start, err := parseClock(parts[0])
	if err != nil {
		return TimeWindow{}, err
	}
	window := TimeWindow{Start: onDay(day, start)}

	if len(parts) == 2 {
		end, err := parseClock(parts[1])
		if err != nil {
			return TimeWindow{}, err
		}
		endAt := onDay(day, end)
		window.End = &endAt
	}
	return window, nil
}

// IsLive reports whether an event's window has not yet passed relative to
// now. Events whose schedule cannot be resolved are treated as not live,
// which keeps them out of listings rather than showing them forever.
func IsLive(event *models.Event, now time.Time) bool {
	window, err := Resolve(event.EventDate, event.TimeDesc)
	if err != nil {
		return false
	}
	if window.End != nil {
		return !window.End.Before(now)
	}
	return !window.Start.Before(now)
}

type clock struct {
	hour, minute int
}

func parseClock(s string) (clock, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return clock{}, fmt.Errorf("%w: empty time", ErrUnparseable)
	}

	meridiem := ""
	for _, suffix := range []string{"AM", "PM"} {
		if strings.HasSuffix(s, suffix) {
			meridiem = suffix
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	hourStr, minuteStr, hasMinute := strings.Cut(s, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(hourStr))
	if err != nil {
		return clock{}, fmt.Errorf("%w: bad hour %q", ErrUnparseable, hourStr)
	}

	minute := 0
	if hasMinute {
		minute, err = strconv.Atoi(strings.TrimSpace(minuteStr))
		if err != nil || minute < 0 || minute > 59 {
			return clock{}, fmt.Errorf("%w: bad minute %q", ErrUnparseable, minuteStr)
		}
	}

	switch meridiem {
	case "AM":
		if hour < 1 || hour > 12 {
			return clock{}, fmt.Errorf("%w: hour %d out of range", ErrUnparseable, hour)
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return clock{}, fmt.Errorf("%w: hour %d out of range", ErrUnparseable, hour)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return clock{}, fmt.Errorf("%w: hour %d out of range", ErrUnparseable, hour)
		}
		// No meridiem: 12..23 already reads as PM or 24-hour; 8..11
		// gets the evening heuristic.
		if hour >= 8 && hour < 12 {
			hour += 12
		}
	}

	return clock{hour: hour, minute: minute}, nil
}

func onDay(day time.Time, c clock) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, day.Location())
}

package schedule

import (
	"fmt"
	"strings"
	"time"
)

// gameTimeFormats is the parse cascade for the page's start-time
// strings. Both 12-hour and 24-hour notations show up; the trailing
// "ET" is stripped before parsing.
var gameTimeFormats = []string{
	"3:04 pm",
	"3:04pm",
	"3:04 PM",
	"03:04 pm",
	"15:04",
}

// ParseGameTime resolves a display time like "7:05 pm ET" or "19:05"
// into an absolute instant on the given day in loc. Returns an error
// when no known format matches.
func ParseGameTime(display string, day time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(display)
	s = strings.TrimSuffix(s, "ET")
	s = strings.TrimSuffix(s, "et")
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty game time")
	}

	for _, layout := range gameTimeFormats {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
	}

	return time.Time{}, fmt.Errorf("unparseable game time %q", display)
}

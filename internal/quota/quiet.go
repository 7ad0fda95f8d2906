package quota

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a UTC hour window such as "22-06". The start hour is
// inclusive and the end hour exclusive; a start after the end wraps past
// midnight. The zero value never suppresses.
type QuietHours struct {
	Start, End int
	enabled    bool
}

// ParseQuietHours parses "start-end" in UTC hours; an empty string disables it.
func ParseQuietHours(window string) (QuietHours, error) {
	window = strings.TrimSpace(window)
	if window == "" {
		return QuietHours{}, nil
	}
	from, to, ok := strings.Cut(window, "-")
	if !ok {
		return QuietHours{}, fmt.Errorf("quiet hours %q: expected start-end", window)
	}
	start, err := parseHour(from)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", window, err)
	}
	end, err := parseHour(to)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", window, err)
	}
	return QuietHours{Start: start, End: end, enabled: true}, nil
}

func parseHour(s string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range", h)
	}
	return h, nil
}

// Contains reports whether t's UTC hour is inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.enabled {
		return false
	}
	h := t.UTC().Hour()
	if q.Start <= q.End {
		return q.Start <= h && h < q.End
	}
	return h >= q.Start || h < q.End
}

func (q QuietHours) String() string {
	if !q.enabled {
		return "off"
	}
	return fmt.Sprintf("%02d-%02d UTC", q.Start, q.End)
}

package quota

import "time"

// RunState counts sends within one poll cycle.
type RunState struct {
	Sent     int
	BySource map[string]int
	ByRegion map[string]int
	Regions  []string
}

// NewRunState starts a cycle covering the given regions.
func NewRunState(regions []string) *RunState {
	byRegion := make(map[string]int, len(regions))
	for _, r := range regions {
		byRegion[r] = 0
	}
	return &RunState{
		BySource: make(map[string]int),
		ByRegion: byRegion,
		Regions:  append([]string(nil), regions...),
	}
}

// regionsBelow counts the cycle's regions with fewer than floor sends.
func (r *RunState) regionsBelow(floor int) int {
	n := 0
	for _, region := range r.Regions {
		if r.ByRegion[region] < floor {
			n++
		}
	}
	return n
}

// DayState is the process-wide daily counter plus the cooldown anchor.
type DayState struct {
	Day             time.Time
	SentToday       int
	LastNonCritical time.Time
}

// NewDayState restores state loaded from storage for the UTC day of now.
func NewDayState(now time.Time, sentToday int, lastNonCritical time.Time) *DayState {
	return &DayState{Day: StartOfDay(now), SentToday: sentToday, LastNonCritical: lastNonCritical}
}

// Roll resets the daily counter when now falls on a later UTC day.
func (d *DayState) Roll(now time.Time) {
	day := StartOfDay(now)
	if day.After(d.Day) {
		d.Day = day
		d.SentToday = 0
	}
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, dd := t.UTC().Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

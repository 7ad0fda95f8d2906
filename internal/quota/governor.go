// Package quota decides whether a scored candidate may be dispatched given
// run, day, source, cooldown and region balancing limits.
package quota

import (
	"time"

	"github.com/deusflow/crisiswatch/internal/news"
)

type Reason string

const (
	ReasonRunCap    Reason = "run_cap"
	ReasonDayCap    Reason = "day_cap"
	ReasonSourceCap Reason = "source_cap"
	ReasonCooldown  Reason = "cooldown"
	ReasonRegionMin Reason = "region_min"
)

type Decision struct {
	Allow  bool
	Reason Reason
}

func allow() Decision        { return Decision{Allow: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }

func (d Decision) String() string {
	if d.Allow {
		return "allow"
	}
	return "deny(" + string(d.Reason) + ")"
}

// Limits configures the Governor. MaxPerSourceRun of zero disables the
// per-source cap and MinPerRegion of zero disables region balancing.
type Limits struct {
	MaxPerRun           int
	MaxPerDay           int
	MaxPerSourceRun     int
	MinPerRegion        int
	NonCriticalCooldown time.Duration
}

type Governor struct {
	limits Limits
}

func NewGovernor(l Limits) *Governor {
	return &Governor{limits: l}
}

func (g *Governor) Limits() Limits { return g.limits }

// Admit applies the checks in order and returns the first failure.
func (g *Governor) Admit(c news.Scored, run *RunState, day *DayState, now time.Time) Decision {
	day.Roll(now)

	if run.Sent >= g.limits.MaxPerRun {
		return deny(ReasonRunCap)
	}
	if day.SentToday >= g.limits.MaxPerDay {
		return deny(ReasonDayCap)
	}
	if !g.SourceAllowed(c.SourceDomain, run) {
		return deny(ReasonSourceCap)
	}
	if !c.Critical && g.limits.NonCriticalCooldown > 0 && !day.LastNonCritical.IsZero() &&
		now.Sub(day.LastNonCritical) < g.limits.NonCriticalCooldown {
		return deny(ReasonCooldown)
	}
	if floor := g.limits.MinPerRegion; floor > 0 {
		needing := run.regionsBelow(floor)
		if needing > 0 && run.ByRegion[c.Region] >= floor && run.Sent < needing {
			return deny(ReasonRegionMin)
		}
	}
	return allow()
}

// SourceAllowed reports whether the source still has per-run budget.
func (g *Governor) SourceAllowed(source string, run *RunState) bool {
	return g.limits.MaxPerSourceRun <= 0 || run.BySource[source] < g.limits.MaxPerSourceRun
}

// Record applies a successful dispatch to the counters. The cooldown anchor
// only moves forward.
func (g *Governor) Record(c news.Scored, run *RunState, day *DayState, now time.Time) {
	day.Roll(now)
	run.Sent++
	run.BySource[c.SourceDomain]++
	run.ByRegion[c.Region]++
	day.SentToday++
	if !c.Critical && now.After(day.LastNonCritical) {
		day.LastNonCritical = now
	}
}

// Exhausted reports whether the run or day cap has been reached.
func (g *Governor) Exhausted(run *RunState, day *DayState, now time.Time) bool {
	day.Roll(now)
	return run.Sent >= g.limits.MaxPerRun || day.SentToday >= g.limits.MaxPerDay
}

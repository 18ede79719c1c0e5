// Package stats derives focus statistics from a user's focus session records.
//
// Everything here is a pure function of its input: the live package calls
// Compute on every snapshot of a user's sessions and never keeps state
// between calls.
package stats

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unwatchhq/unwatch/internal/models"
)

// MaxCulprits is how many categories are reported as culprits.
const MaxCulprits = 3

// HourlyFocus is the focus minutes accumulated under one hour label.
type HourlyFocus struct {
	Hour    string `json:"hour"`
	Minutes int    `json:"minutes"`
}

// DerivedStats is the aggregate view of a user's focus sessions.
type DerivedStats struct {
	FocusPercent      int           `json:"focus_percent"`
	ScreenTimeMinutes int           `json:"screen_time_minutes"`
	Culprits          []string      `json:"culprits"`
	Hourly            []HourlyFocus `json:"hourly"`

	// Streak is the number of distinct local calendar days with at least
	// one session start. It is not a consecutive-day streak: activity on
	// day 1 and day 10 yields 2.
	Streak int `json:"streak"`
}

// Empty returns the stats for a user with no sessions.
// Slices are non-nil so they encode as [] rather than null.
func Empty() DerivedStats {
	return DerivedStats{
		Culprits: []string{},
		Hourly:   []HourlyFocus{},
	}
}

// TopCategories returns the culprit categories, highest duration first.
func (d DerivedStats) TopCategories() []string {
	return d.Culprits
}

// Compute folds sessions into DerivedStats. Hour labels and calendar days
// are taken in loc; a nil loc means UTC.
//
// Records with a zero start or end time are not dropped: their duration is
// zero, their total_minutes override (if any) still counts toward screen
// time, and a zero start time contributes no hour label or day.
func Compute(sessions []models.FocusSession, loc *time.Location) DerivedStats {
	out := Empty()
	if len(sessions) == 0 {
		return out
	}
	if loc == nil {
		loc = time.UTC
	}

	var focusMinutes, totalMinutes int
	categories := newRanking()
	hourly := newRanking()
	days := make(map[string]struct{})

	for _, s := range sessions {
		duration := MinutesBetween(s.StartTime, s.EndTime)

		focus := duration
		if s.FocusMinutes != nil {
			focus = min(nonNegative(*s.FocusMinutes), duration)
		}
		focusMinutes += focus

		if s.TotalMinutes != nil {
			totalMinutes += nonNegative(*s.TotalMinutes)
		} else {
			totalMinutes += duration
		}

		if s.BlockType != nil && *s.BlockType != "" {
			categories.add(*s.BlockType, duration)
		}

		if s.StartTime.IsZero() {
			continue
		}
		start := s.StartTime.In(loc)
		hourly.add(HourLabel(start), focus)
		days[start.Format(time.DateOnly)] = struct{}{}
	}

	out.FocusPercent = FocusPercent(focusMinutes, totalMinutes)
	out.ScreenTimeMinutes = totalMinutes
	out.Culprits = categories.top(MaxCulprits)
	for _, e := range hourly.entries {
		out.Hourly = append(out.Hourly, HourlyFocus{Hour: e.key, Minutes: e.minutes})
	}
	out.Streak = len(days)
	return out
}

// MinutesBetween returns the whole minutes from start to end, rounded half
// up and floored at zero. A zero timestamp on either side yields zero.
func MinutesBetween(start, end time.Time) int {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	ms := end.Sub(start).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 30_000) / 60_000)
}

// HourLabel formats the hour of t on a 12-hour clock with an a/p suffix
// and no leading zero: 0 → "12a", 12 → "12p", 13 → "1p".
func HourLabel(t time.Time) string {
	h := t.Hour()
	suffix := "a"
	if h >= 12 {
		suffix = "p"
	}
	return strconv.Itoa((h+11)%12+1) + suffix
}

// FocusPercent returns round(100*focus/total), or 0 when total is zero.
// The result is capped at 100 because overrides can make focus exceed total.
func FocusPercent(focus, total int) int {
	if total <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(focus)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(0).
		IntPart()
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return int(pct)
}

type rankEntry struct {
	key     string
	minutes int
}

// ranking accumulates minutes per key, remembering first-seen order.
type ranking struct {
	index   map[string]int
	entries []rankEntry
}

func newRanking() *ranking {
	return &ranking{index: make(map[string]int)}
}

func (r *ranking) add(key string, minutes int) {
	if i, ok := r.index[key]; ok {
		r.entries[i].minutes += minutes
		return
	}
	r.index[key] = len(r.entries)
	r.entries = append(r.entries, rankEntry{key: key, minutes: minutes})
}

// top returns up to n keys by minutes descending. Ties keep first-seen order.
func (r *ranking) top(n int) []string {
	sorted := make([]rankEntry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].minutes > sorted[j].minutes
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	keys := make([]string, 0, len(sorted))
	for _, e := range sorted {
		keys = append(keys, e.key)
	}
	return keys
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Package streak derives daily check-in streak metrics from a calendar-day
// log. All metrics are pure functions of the logged day set; nothing derived
// is ever stored.
package streak

import (
	"sort"
	"time"
)

// DayFormat is the calendar-day identifier layout (date only, no time).
const DayFormat = "2006-01-02"

// Milestones is the fixed ascending list of streak milestones.
var Milestones = []int{3, 7, 14, 30, 60, 90, 180, 365}

// Metrics holds the derived streak values for a check-in log.
type Metrics struct {
	Current       int    `json:"current_streak"`
	Longest       int    `json:"longest_streak"`
	Total         int    `json:"total_check_ins"`
	LastCheckIn   string `json:"last_check_in,omitempty"`
	NextMilestone int    `json:"next_milestone"`
}

// Compute derives streak metrics from a set of day identifiers. Unparseable
// entries are ignored; duplicates count once. The current streak is the final
// consecutive run only when the most recent logged day is today or yesterday
// relative to now, otherwise zero.
func Compute(days []string, now time.Time) Metrics {
	parsed := make([]time.Time, 0, len(days))
	seen := make(map[string]bool, len(days))
	for _, d := range days {
		day, err := time.Parse(DayFormat, d)
		if err != nil || seen[d] {
			continue
		}
		seen[d] = true
		parsed = append(parsed, day)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Before(parsed[j]) })

	var m Metrics
	m.Total = len(parsed)
	if m.Total == 0 {
		m.NextMilestone = NextMilestone(0)
		return m
	}

	run := 1
	longest := 1
	for i := 1; i < len(parsed); i++ {
		switch daysBetween(parsed[i-1], parsed[i]) {
		case 0:
			// Duplicate calendar day, already deduplicated above.
		case 1:
			run++
		default:
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	last := parsed[len(parsed)-1]
	m.Longest = longest
	m.LastCheckIn = last.Format(DayFormat)
	if gap := daysBetween(last, now); gap >= 0 && gap <= 1 {
		m.Current = run
	}
	m.NextMilestone = NextMilestone(m.Current)
	return m
}

// NextMilestone returns the smallest milestone strictly greater than the
// current streak, or current+1 once the list is exhausted.
func NextMilestone(current int) int {
	for _, milestone := range Milestones {
		if milestone > current {
			return milestone
		}
	}
	return current + 1
}

// daysBetween returns the whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

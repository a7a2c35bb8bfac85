package backorder

import (
	"sort"
	"time"
)

// GroupingWindowDays is the largest gap, in whole days, between two
// consecutive dates of the same follow-up order.
const GroupingWindowDays = 10

const day = 24 * time.Hour

// SortByDate orders items by date ascending. Undated items go last and keep
// their relative order.
func SortByDate[T any](items []T, dateOf func(T) (time.Time, bool)) {
	sort.SliceStable(items, func(i, j int) bool {
		di, okI := dateOf(items[i])
		dj, okJ := dateOf(items[j])
		switch {
		case okI && okJ:
			return di.Before(dj)
		default:
			return okI && !okJ
		}
	})
}

// GroupByProximity splits date-sorted items into runs where each item is at
// most windowDays after the item added before it. The distance is chained:
// a run can span more than windowDays in total. Items without a date form
// groups of their own.
func GroupByProximity[T any](items []T, dateOf func(T) (time.Time, bool), windowDays int) [][]T {
	var groups [][]T
	var current []T
	var last time.Time
	lastDated := false

	for _, item := range items {
		date, ok := dateOf(item)
		switch {
		case !ok:
			if len(current) > 0 {
				groups = append(groups, current)
			}
			groups = append(groups, []T{item})
			current, lastDated = nil, false
			continue
		case len(current) > 0 && lastDated && wholeDays(date.Sub(last)) <= windowDays:
			current = append(current, item)
		default:
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []T{item}
		}
		last, lastDated = date, true
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// wholeDays floors d to days.
func wholeDays(d time.Duration) int {
	days := d / day
	if d < 0 && d%day != 0 {
		days--
	}
	return int(days)
}

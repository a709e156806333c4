package store

import "time"

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// startOfDay returns local midnight for now, in UTC.
func startOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).UTC()
}

// completionPercent rounds completed/total to a whole percentage.
func completionPercent(total, completed int64) int {
	if total <= 0 {
		return 0
	}
	return int((float64(completed)/float64(total))*100 + 0.5)
}

func messageCategory(c string) string {
	if c == "" {
		return DefaultMessageCategory
	}
	return c
}

package catalog

import (
	"strings"
	"time"

	"ms-railway/internal/models"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// RunsOn reports whether the schedule operates on the weekday of date.
// RunningDays is "Daily" or a comma separated list of day names; only the first
// three letters of each name are significant.
func RunsOn(s *models.Schedule, date time.Time) bool {
	if s == nil {
		return false
	}
	days := strings.TrimSpace(strings.ToLower(s.RunningDays))
	if days == "daily" || days == "all" {
		return true
	}
	for _, part := range strings.FieldsFunc(days, func(r rune) bool { return r == ',' || r == ' ' || r == '/' }) {
		if len(part) < 3 {
			continue
		}
		if wd, ok := weekdayNames[part[:3]]; ok && wd == date.Weekday() {
			return true
		}
	}
	return false
}

// ParseDate parses a travel date in storage format.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(models.DateLayout, strings.TrimSpace(s))
}

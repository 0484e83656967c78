package quality

import "time"

// holidayWindow returns the name of the low-filing-volume window containing
// the given date, or "" when none applies. During these windows insider
// filing activity drops and a fixed cluster threshold would go quiet, so the
// numeric thresholds of the liquidity and per-insider filters are relaxed.
//
// Windows (all inclusive, evaluated on the calendar date):
//   - Dec 20 through Jan 5 (year-end)
//   - the week of US Thanksgiving (Monday through Sunday)
//   - Jul 1 through Aug 15 (summer)
//   - Apr 1 through Apr 20 (earnings blackout)
func holidayWindow(now time.Time) string {
	m, d := now.Month(), now.Day()

	switch {
	case m == time.December && d >= 20, m == time.January && d <= 5:
		return "year_end"
	case m == time.July, m == time.August && d <= 15:
		return "summer"
	case m == time.April && d <= 20:
		return "earnings_blackout"
	}

	if inThanksgivingWeek(now) {
		return "thanksgiving"
	}
	return ""
}

// inThanksgivingWeek reports whether the date falls in the Monday-Sunday week
// containing US Thanksgiving (the fourth Thursday of November).
func inThanksgivingWeek(now time.Time) bool {
	if now.Month() != time.November {
		return false
	}
	tg := thanksgiving(now.Year())
	monday := tg.AddDate(0, 0, -3) // Thursday back to Monday
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return !day.Before(monday) && day.Before(monday.AddDate(0, 0, 7))
}

// thanksgiving returns the fourth Thursday of November for the given year.
func thanksgiving(year int) time.Time {
	nov1 := time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Thursday) - int(nov1.Weekday()) + 7) % 7
	return nov1.AddDate(0, 0, offset+21)
}

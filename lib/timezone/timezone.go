package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
}

// force the clock into the portal's timezone, CI runners can end
// up anywhere and a UTC midnight would shift "yesterday" by a day
// when comparing against the portal's date-stamped logs
func Now() time.Time {
	return time.Now().In(Location)
}

// Yesterday returns the start of the previous calendar day in the
// portal's timezone, the reference date for the daily report.
func Yesterday() time.Time {
	now := Now()
	return time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, Location)
}

// SameDay reports whether a and b fall on the same calendar day
// once both are viewed in the portal's timezone.
func SameDay(a, b time.Time) bool {
	a = a.In(Location)
	b = b.In(Location)
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

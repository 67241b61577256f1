// Package markethours provides NSE session arithmetic: trading-hours
// checks for the gateway status feed and the daily instrument refresh
// schedule.
package markethours

import "time"

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE session bounds and maintenance timing, IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30

	// Instrument master refresh time, before market open.
	RefreshHour   = 8
	RefreshMinute = 0
)

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// StatusString returns a short human-readable market state.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "open"
	}
	return "closed"
}

// NextRefresh returns the next instrument-refresh instant (8:00 AM IST):
// today if still ahead, otherwise tomorrow.
func NextRefresh(t time.Time) time.Time {
	ist := t.In(IST)
	next := time.Date(ist.Year(), ist.Month(), ist.Day(), RefreshHour, RefreshMinute, 0, 0, IST)
	if !ist.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Package marketcal provides trading-day and trading-session predicates for
// the mainland China and Hong Kong exchanges. Both markets share the same
// session windows for the purposes of this engine and neither observes DST,
// so all checks run in fixed exchange-local time (UTC+8).
package marketcal

import "time"

// Exchange-local session boundaries, minutes from midnight.
const (
	morningOpen    = 9*60 + 30
	morningClose   = 11*60 + 30
	afternoonOpen  = 13 * 60
	afternoonClose = 15 * 60
)

// CST is exchange-local civil time for Shanghai, Shenzhen, Beijing, and
// Hong Kong.
var CST = time.FixedZone("CST", 8*60*60)

// Calendar answers market-hours questions relative to an injectable clock,
// so tests can pin the current time.
type Calendar struct {
	now func() time.Time
}

// New creates a Calendar using the given clock. A nil clock means time.Now.
func New(now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	return &Calendar{now: now}
}

// Now returns the current exchange-local time.
func (c *Calendar) Now() time.Time {
	return c.now().In(CST)
}

// Today returns the current exchange-local calendar day as "YYYY-MM-DD".
func (c *Calendar) Today() string {
	return c.Now().Format("2006-01-02")
}

// IsTradingDay reports whether d falls on a weekday. Exchange holidays are
// out of scope; callers treat holiday sessions as quiet trading days.
func IsTradingDay(d time.Time) bool {
	wd := d.In(CST).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingSession reports whether t falls inside a live session:
// a trading day and within [09:30,11:30] or [13:00,15:00] local.
func IsTradingSession(t time.Time) bool {
	local := t.In(CST)
	if !IsTradingDay(local) {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	return (m >= morningOpen && m <= morningClose) || (m >= afternoonOpen && m <= afternoonClose)
}

// LastTradingDay returns the most recent day whose close has passed: today
// if t is a trading day past 15:00, otherwise it walks backward to the
// previous weekday.
func LastTradingDay(t time.Time) time.Time {
	local := t.In(CST)
	if IsTradingDay(local) && local.Hour()*60+local.Minute() >= afternoonClose {
		return local
	}
	d := local.AddDate(0, 0, -1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// InSession reports whether the calendar's current time is inside a live
// trading session.
func (c *Calendar) InSession() bool {
	return IsTradingSession(c.Now())
}

// LastTradingDay returns the most recent closed trading day as "YYYY-MM-DD".
func (c *Calendar) LastTradingDay() string {
	return LastTradingDay(c.Now()).Format("2006-01-02")
}

// CloseOf returns 15:00 exchange-local on the same day as t.
func CloseOf(t time.Time) time.Time {
	local := t.In(CST)
	return time.Date(local.Year(), local.Month(), local.Day(), 15, 0, 0, 0, CST)
}

// Package market models trading venues, their session calendars and live
// quote collection.
package market

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Code identifies a trading venue.
type Code string

const (
	CN Code = "CN"
	HK Code = "HK"
	US Code = "US"
)

// Codes lists every supported market in evaluation order.
var Codes = []Code{CN, HK, US}

// ParseCode maps a stored market string to a Code. Unknown values fall back to CN.
func ParseCode(s string) Code {
	switch Code(strings.ToUpper(strings.TrimSpace(s))) {
	case HK:
		return HK
	case US:
		return US
	default:
		return CN
	}
}

// Market reports whether a venue is in session.
type Market interface {
	Code() Code
	IsTradingTime(now time.Time) bool
}

type session struct {
	start, end int // minutes since local midnight, inclusive
}

func hm(h, m int) int { return h*60 + m }

// SessionMarket is a weekday market with fixed local sessions and a holiday list.
type SessionMarket struct {
	code     Code
	loc      *time.Location
	sessions []session
	holidays map[string]struct{}
}

func mustLoad(name string, offsetHours int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offsetHours*3600)
	}
	return loc
}

// New returns the built-in session market for code.
func New(code Code, holidays []string) *SessionMarket {
	m := &SessionMarket{code: code, holidays: map[string]struct{}{}}
	switch code {
	case HK:
		m.loc = mustLoad("Asia/Hong_Kong", 8)
		m.sessions = []session{{hm(9, 30), hm(12, 0)}, {hm(13, 0), hm(16, 0)}}
	case US:
		m.loc = mustLoad("America/New_York", -5)
		m.sessions = []session{{hm(9, 30), hm(16, 0)}}
	default:
		m.code = CN
		m.loc = mustLoad("Asia/Shanghai", 8)
		m.sessions = []session{{hm(9, 30), hm(11, 30)}, {hm(13, 0), hm(15, 0)}}
	}
	for _, d := range holidays {
		m.holidays[strings.TrimSpace(d)] = struct{}{}
	}
	return m
}

func (m *SessionMarket) Code() Code { return m.code }

// Location returns the venue's timezone.
func (m *SessionMarket) Location() *time.Location { return m.loc }

func (m *SessionMarket) IsTradingTime(now time.Time) bool {
	local := now.In(m.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if _, ok := m.holidays[local.Format("2006-01-02")]; ok {
		return false
	}
	minute := hm(local.Hour(), local.Minute())
	for _, s := range m.sessions {
		if minute >= s.start && minute <= s.end {
			return true
		}
	}
	return false
}

// Calendar is the set of configured markets.
type Calendar struct {
	markets []Market
}

// NewCalendar builds a calendar over markets.
func NewCalendar(markets ...Market) *Calendar {
	return &Calendar{markets: markets}
}

// DefaultCalendar builds CN, HK and US with holidays keyed by market code.
func DefaultCalendar(holidays map[string][]string) *Calendar {
	markets := make([]Market, 0, len(Codes))
	for _, code := range Codes {
		markets = append(markets, New(code, holidays[string(code)]))
	}
	return NewCalendar(markets...)
}

// AnyTrading reports whether at least one configured market is in session.
func (c *Calendar) AnyTrading(now time.Time) bool {
	for _, m := range c.markets {
		if m.IsTradingTime(now) {
			return true
		}
	}
	return false
}

// IsTrading reports whether the market with code is in session. Unconfigured
// markets are closed.
func (c *Calendar) IsTrading(code Code, now time.Time) bool {
	for _, m := range c.markets {
		if m.Code() == code {
			return m.IsTradingTime(now)
		}
	}
	return false
}

// Open returns the codes of markets currently in session.
func (c *Calendar) Open(now time.Time) []Code {
	var open []Code
	for _, m := range c.markets {
		if m.IsTradingTime(now) {
			open = append(open, m.Code())
		}
	}
	return open
}

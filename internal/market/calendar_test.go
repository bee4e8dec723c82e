package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubMarket struct {
	code Code
	open bool
}

func (s stubMarket) Code() Code { return s.code }

func (s stubMarket) IsTradingTime(time.Time) bool { return s.open }

func TestCalendarAnyTradingIsOr(t *testing.T) {
	now := time.Now()
	cal := NewCalendar(stubMarket{CN, true}, stubMarket{HK, false}, stubMarket{US, false})
	assert.True(t, cal.AnyTrading(now))
	assert.Equal(t, []Code{CN}, cal.Open(now))

	closed := NewCalendar(stubMarket{CN, false}, stubMarket{HK, false}, stubMarket{US, false})
	assert.False(t, closed.AnyTrading(now))
	assert.Empty(t, closed.Open(now))

	assert.False(t, NewCalendar().AnyTrading(now))
}

func TestSessionMarkets(t *testing.T) {
	sh, _ := time.LoadLocation("Asia/Shanghai")
	ny, _ := time.LoadLocation("America/New_York")
	wed := func(h, m int, loc *time.Location) time.Time { return time.Date(2026, 3, 4, h, m, 0, 0, loc) }

	cn := New(CN, nil)
	assert.True(t, cn.IsTradingTime(wed(9, 30, sh)))
	assert.True(t, cn.IsTradingTime(wed(11, 30, sh)))
	assert.False(t, cn.IsTradingTime(wed(12, 0, sh)))
	assert.True(t, cn.IsTradingTime(wed(14, 59, sh)))
	assert.False(t, cn.IsTradingTime(wed(15, 1, sh)))
	assert.False(t, cn.IsTradingTime(time.Date(2026, 3, 7, 10, 0, 0, 0, sh)), "saturday")

	hk := New(HK, nil)
	assert.True(t, hk.IsTradingTime(wed(11, 45, sh)))
	assert.True(t, hk.IsTradingTime(wed(15, 30, sh)))

	us := New(US, nil)
	assert.True(t, us.IsTradingTime(wed(10, 0, ny)))
	assert.False(t, us.IsTradingTime(wed(10, 0, sh)))

	assert.Equal(t, CN, ParseCode("moon"))
	assert.Equal(t, HK, ParseCode("hk"))
}

func TestDefaultCalendarGate(t *testing.T) {
	sh, _ := time.LoadLocation("Asia/Shanghai")
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, sh)

	// HK on holiday, US overnight: only CN is open.
	cal := DefaultCalendar(map[string][]string{"HK": {"2026-03-04"}})
	assert.True(t, cal.IsTrading(CN, now))
	assert.False(t, cal.IsTrading(HK, now))
	assert.False(t, cal.IsTrading(US, now))
	assert.True(t, cal.AnyTrading(now))

	all := DefaultCalendar(map[string][]string{"CN": {"2026-03-04"}, "HK": {"2026-03-04"}})
	assert.False(t, all.AnyTrading(now))
}

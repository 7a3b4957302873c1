package transfer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Bop4yH/wallet/pkg/models"
)

// Policy holds the money-movement rules applied to every transfer.
type Policy struct {
	FeePercent   decimal.Decimal
	MinFee       decimal.Decimal
	DailyLimit   decimal.Decimal
	CancelWindow time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FeePercent:   decimal.RequireFromString("0.01"),
		MinFee:       decimal.RequireFromString("0.01"),
		DailyLimit:   decimal.RequireFromString("500000"),
		CancelWindow: 5 * time.Minute,
	}
}

// Fee is FeePercent of amount rounded half-up to cents, never below MinFee.
func (p Policy) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := models.NormalizeAmount(amount.Mul(p.FeePercent))
	if fee.LessThan(p.MinFee) {
		return models.NormalizeAmount(p.MinFee)
	}
	return fee
}

// Clock supplies the current time for daily limits and cancellation windows.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reports wall-clock time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

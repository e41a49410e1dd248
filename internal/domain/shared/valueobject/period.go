package valueobject

import (
	"fmt"
	"time"
)

// BillingPeriod is a value object identifying the (year, month) pair over
// which usage is aggregated into one invoice per customer.
type BillingPeriod struct {
	year  int
	month int
}

// NewBillingPeriod creates a BillingPeriod, validating the month range
func NewBillingPeriod(year, month int) (BillingPeriod, error) {
	if year < 2000 || year > 9999 {
		return BillingPeriod{}, fmt.Errorf("year out of range: %d", year)
	}
	if month < 1 || month > 12 {
		return BillingPeriod{}, fmt.Errorf("month out of range: %d", month)
	}
	return BillingPeriod{year: year, month: month}, nil
}

// PeriodOf returns the billing period containing the given instant
func PeriodOf(t time.Time) BillingPeriod {
	return BillingPeriod{year: t.Year(), month: int(t.Month())}
}

// PreviousBillingPeriod returns the period of the month before the given
// instant. This is the default period for a billing run: usage for a month
// is invoiced once the month has closed.
func PreviousBillingPeriod(t time.Time) BillingPeriod {
	return PeriodOf(t).Previous()
}

// Year returns the billing year
func (p BillingPeriod) Year() int {
	return p.year
}

// Month returns the billing month (1-12)
func (p BillingPeriod) Month() int {
	return p.month
}

// IsZero returns true for the uninitialized period
func (p BillingPeriod) IsZero() bool {
	return p.year == 0 && p.month == 0
}

// Previous returns the immediately preceding billing period
func (p BillingPeriod) Previous() BillingPeriod {
	if p.month == 1 {
		return BillingPeriod{year: p.year - 1, month: 12}
	}
	return BillingPeriod{year: p.year, month: p.month - 1}
}

// Next returns the immediately following billing period
func (p BillingPeriod) Next() BillingPeriod {
	if p.month == 12 {
		return BillingPeriod{year: p.year + 1, month: 1}
	}
	return BillingPeriod{year: p.year, month: p.month + 1}
}

// Start returns the first instant of the period in UTC
func (p BillingPeriod) Start() time.Time {
	return time.Date(p.year, time.Month(p.month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following period in UTC.
// The period covers [Start, End).
func (p BillingPeriod) End() time.Time {
	return p.Next().Start()
}

// Contains reports whether the given date falls inside the period
func (p BillingPeriod) Contains(t time.Time) bool {
	u := t.UTC()
	return u.Year() == p.year && int(u.Month()) == p.month
}

// Equals returns true if both periods identify the same month
func (p BillingPeriod) Equals(other BillingPeriod) bool {
	return p.year == other.year && p.month == other.month
}

// Before returns true if this period precedes the other
func (p BillingPeriod) Before(other BillingPeriod) bool {
	if p.year != other.year {
		return p.year < other.year
	}
	return p.month < other.month
}

// String returns the period in YYYY-MM form
func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.year, p.month)
}

package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateProvider returns the exchange rate from the given currency into the
// company's home currency on a date. The engine consumes it and never
// implements it; wire in a BNR client or a fixed-rate fake.
type RateProvider func(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error)

// VatRateProvider returns the standard VAT rate for a country on a date.
type VatRateProvider func(ctx context.Context, countryCode string, date time.Time) (decimal.Decimal, error)

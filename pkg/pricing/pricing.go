// Package pricing computes localized subscription prices. Plans are priced
// in USD and converted to the payer's local currency at checkout time, so a
// customer in Lagos sees a naira amount while the plan catalog stays in one
// currency.
package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

const (
	// DefaultBasePriceUSD is the monthly subscription price in USD.
	DefaultBasePriceUSD = 2.99

	// DefaultCountry is assumed when geo lookup fails or returns nothing.
	DefaultCountry = "NG"

	// DefaultCurrency is the charge currency for the default country.
	DefaultCurrency = "NGN"
)

// Config defines the plan catalog and currency mapping.
type Config struct {
	// BasePriceUSD is the monthly plan price in USD (default: 2.99)
	BasePriceUSD float64

	// PlanMultipliers maps plan names to multiples of the base price.
	// Longer plans carry a discount relative to month-by-month billing.
	PlanMultipliers map[string]float64

	// Currencies maps ISO country codes to charge currencies
	Currencies map[string]string

	// DefaultCountry is used when no country can be determined (default: "NG")
	DefaultCountry string

	// DefaultCurrency is used for countries with no mapping (default: "NGN")
	DefaultCurrency string

	// Logger is used for structured logging (default: entitle.NoopLogger)
	Logger entitle.Logger
}

// Quote is a localized price for one plan.
type Quote struct {
	// Plan is the plan the quote is for
	Plan string

	// Country is the resolved payer country
	Country string

	// Currency is the charge currency
	Currency string

	// AmountMajor is the price in major currency units
	AmountMajor float64

	// AmountMinor is the price in minor currency units (kobo, cents),
	// the integer form payment providers charge in
	AmountMinor int64
}

// Pricer produces localized quotes from the plan catalog and live fx rates.
type Pricer struct {
	config Config
	rates  *RateSource
	logger entitle.Logger
}

// NewPricer creates a Pricer. A nil RateSource is allowed only when every
// configured currency is USD; pass one built with NewRateSource otherwise.
func NewPricer(config Config, rates *RateSource) *Pricer {
	if config.BasePriceUSD <= 0 {
		config.BasePriceUSD = DefaultBasePriceUSD
	}
	if config.PlanMultipliers == nil {
		config.PlanMultipliers = map[string]float64{
			"monthly":   1,
			"quarterly": 2.7,
			"yearly":    9.6,
		}
	}
	if config.DefaultCountry == "" {
		config.DefaultCountry = DefaultCountry
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = DefaultCurrency
	}
	if config.Logger == nil {
		config.Logger = &entitle.NoopLogger{}
	}

	return &Pricer{
		config: config,
		rates:  rates,
		logger: config.Logger,
	}
}

// CurrencyFor resolves the charge currency for a country code.
func (p *Pricer) CurrencyFor(country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = p.config.DefaultCountry
	}
	if cur, ok := p.config.Currencies[country]; ok {
		return cur
	}
	return p.config.DefaultCurrency
}

// Quote computes the localized price for a plan in the given country.
// The minor-unit amount is rounded once, at the end, so providers always
// receive an exact integer.
func (p *Pricer) Quote(ctx context.Context, country, plan string) (*Quote, error) {
	multiplier, ok := p.config.PlanMultipliers[strings.ToLower(strings.TrimSpace(plan))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}

	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = p.config.DefaultCountry
	}
	currency := p.CurrencyFor(country)

	rate := 1.0
	if currency != "USD" {
		r, approximate, err := p.rates.Rate(ctx, currency)
		if err != nil {
			return nil, err
		}
		if approximate {
			p.logger.Warn("using approximate fx rate for quote",
				entitle.Field{Key: "currency", Value: currency},
				entitle.Field{Key: "rate", Value: r})
		}
		rate = r
	}

	usd := p.config.BasePriceUSD * multiplier
	minor := int64(math.Round(usd * rate * 100))

	return &Quote{
		Plan:        strings.ToLower(strings.TrimSpace(plan)),
		Country:     country,
		Currency:    currency,
		AmountMajor: float64(minor) / 100,
		AmountMinor: minor,
	}, nil
}

// BasePriceUSD returns the configured monthly plan price in USD.
func (p *Pricer) BasePriceUSD() float64 {
	return p.config.BasePriceUSD
}

// USDValue converts an amount in major currency units to USD using the
// current fx rate. The second return reports whether the conversion used an
// approximate (stale or fallback) rate.
func (p *Pricer) USDValue(ctx context.Context, amountMajor float64, currency string) (float64, bool, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "USD" {
		return amountMajor, false, nil
	}

	rate, approximate, err := p.rates.Rate(ctx, currency)
	if err != nil {
		return 0, false, err
	}
	if rate <= 0 {
		return 0, false, fmt.Errorf("%w: non-positive rate for %s", ErrRateUnavailable, currency)
	}
	return amountMajor / rate, approximate, nil
}

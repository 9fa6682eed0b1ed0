package pricing

import "errors"

var (
	// ErrUnknownPlan is returned when a quote is requested for a plan
	// that is not in the catalog
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrRateUnavailable is returned when no fx rate can be produced,
	// not even an approximate one
	ErrRateUnavailable = errors.New("fx rate unavailable")
)

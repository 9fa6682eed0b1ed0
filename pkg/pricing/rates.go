package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

const (
	// defaultRatesEndpoint serves USD-base rates for every currency we quote in.
	defaultRatesEndpoint = "https://open.er-api.com/v6/latest/USD"

	defaultRateTTL     = time.Hour
	defaultHTTPTimeout = 10 * time.Second

	// FallbackRateNGN approximates the NGN/USD rate when the fx service is
	// unreachable and no cached rate exists. A slightly wrong rate only
	// shifts the displayed price; it never blocks checkout.
	FallbackRateNGN = 1500.0
)

// RateSourceConfig configures an fx rate source.
type RateSourceConfig struct {
	// Endpoint is the fx API URL returning USD-base rates
	// (default: open.er-api.com)
	Endpoint string

	// TTL is how long a fetched rate stays fresh (default: 1h)
	TTL time.Duration

	// Fallback maps currency codes to hardcoded units-per-USD rates used
	// when the service is down and the cache is empty
	Fallback map[string]float64

	// HTTPClient is an optional client for fx calls (default: 10s timeout)
	HTTPClient *http.Client

	// Logger is used for structured logging (default: entitle.NoopLogger)
	Logger entitle.Logger

	// Now overrides time lookup for tests
	Now func() time.Time
}

// RateSource fetches and caches fx rates against USD. Concurrent lookups for
// the same currency collapse into one upstream call, and stale or fallback
// rates are served rather than failing a checkout.
type RateSource struct {
	endpoint string
	ttl      time.Duration
	fallback map[string]float64
	client   *http.Client
	logger   entitle.Logger
	now      func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedRate
}

type cachedRate struct {
	rate      float64
	fetchedAt time.Time
}

// ratesResponse is the open.er-api.com response shape.
type ratesResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// NewRateSource creates a rate source with defaults applied.
func NewRateSource(config RateSourceConfig) *RateSource {
	if config.Endpoint == "" {
		config.Endpoint = defaultRatesEndpoint
	}
	if config.TTL <= 0 {
		config.TTL = defaultRateTTL
	}
	if config.Fallback == nil {
		config.Fallback = map[string]float64{"NGN": FallbackRateNGN}
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if config.Logger == nil {
		config.Logger = &entitle.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateSource{
		endpoint: config.Endpoint,
		ttl:      config.TTL,
		fallback: config.Fallback,
		client:   config.HTTPClient,
		logger:   config.Logger,
		now:      config.Now,
		cache:    make(map[string]cachedRate),
	}
}

// Rate returns units of the given currency per USD. The second return
// reports whether the rate is approximate: a stale cached value or a
// hardcoded fallback served because the fx service failed.
func (s *RateSource) Rate(ctx context.Context, currency string) (float64, bool, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return 0, false, fmt.Errorf("%w: empty currency", ErrRateUnavailable)
	}
	if currency == "USD" {
		return 1, false, nil
	}

	now := s.now()

	s.mu.RLock()
	cached, ok := s.cache[currency]
	s.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) < s.ttl {
		return cached.rate, false, nil
	}

	rate, err, _ := s.group.Do(currency, func() (interface{}, error) {
		return s.fetch(ctx, currency)
	})
	if err == nil {
		return rate.(float64), false, nil
	}

	// Degrade rather than fail: a stale cached rate first, then the
	// hardcoded fallback.
	if ok {
		s.logger.Warn("fx fetch failed, serving stale rate",
			entitle.Field{Key: "currency", Value: currency},
			entitle.Field{Key: "age", Value: now.Sub(cached.fetchedAt).String()},
			entitle.Field{Key: "error", Value: err.Error()})
		return cached.rate, true, nil
	}
	if fb, has := s.fallback[currency]; has {
		s.logger.Warn("fx fetch failed, serving fallback rate",
			entitle.Field{Key: "currency", Value: currency},
			entitle.Field{Key: "rate", Value: fb},
			entitle.Field{Key: "error", Value: err.Error()})
		return fb, true, nil
	}

	return 0, false, fmt.Errorf("%w: %s: %v", ErrRateUnavailable, currency, err)
}

func (s *RateSource) fetch(ctx context.Context, currency string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, http.NoBody)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fx service returned status %d", resp.StatusCode)
	}

	var parsed ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to parse fx response: %w", err)
	}

	rate, ok := parsed.Rates[currency]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("fx response has no usable rate for %s", currency)
	}

	s.mu.Lock()
	s.cache[currency] = cachedRate{rate: rate, fetchedAt: s.now()}
	s.mu.Unlock()

	return rate, nil
}

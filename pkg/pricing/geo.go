package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

const (
	// defaultGeoEndpoint resolves an IP to a country code. The %s is
	// replaced with the client IP.
	defaultGeoEndpoint = "https://ipapi.co/%s/country/"

	defaultGeoTimeout = 3 * time.Second
)

// GeoResolverConfig configures a GeoResolver.
type GeoResolverConfig struct {
	// Endpoint is a printf-style URL with one %s for the IP
	// (default: ipapi.co)
	Endpoint string

	// DefaultCountry is returned when lookup fails (default: "NG")
	DefaultCountry string

	// HTTPClient is an optional client for geo calls (default: 3s timeout)
	HTTPClient *http.Client

	// Logger is used for structured logging (default: entitle.NoopLogger)
	Logger entitle.Logger
}

// GeoResolver maps a client IP to an ISO country code. Lookup is
// best-effort: any failure yields the default country, never an error,
// because a wrong country only changes the quoted currency.
type GeoResolver struct {
	endpoint       string
	defaultCountry string
	client         *http.Client
	logger         entitle.Logger
}

// NewGeoResolver creates a geo resolver with defaults applied.
func NewGeoResolver(config GeoResolverConfig) *GeoResolver {
	if config.Endpoint == "" {
		config.Endpoint = defaultGeoEndpoint
	}
	if config.DefaultCountry == "" {
		config.DefaultCountry = DefaultCountry
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultGeoTimeout}
	}
	if config.Logger == nil {
		config.Logger = &entitle.NoopLogger{}
	}

	return &GeoResolver{
		endpoint:       config.Endpoint,
		defaultCountry: config.DefaultCountry,
		client:         config.HTTPClient,
		logger:         config.Logger,
	}
}

// Country resolves the country code for an IP. Private and unparsable
// addresses skip the lookup entirely.
func (g *GeoResolver) Country(ctx context.Context, ip string) string {
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return g.defaultCountry
	}

	ctx, cancel := context.WithTimeout(ctx, defaultGeoTimeout)
	defer cancel()

	country, err := g.lookup(ctx, ip)
	if err != nil {
		g.logger.Warn("geo lookup failed, using default country",
			entitle.Field{Key: "ip", Value: ip},
			entitle.Field{Key: "default", Value: g.defaultCountry},
			entitle.Field{Key: "error", Value: err.Error()})
		return g.defaultCountry
	}
	return country
}

func (g *GeoResolver) lookup(ctx context.Context, ip string) (string, error) {
	url := fmt.Sprintf(g.endpoint, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo service returned status %d", resp.StatusCode)
	}

	// The endpoint returns either a bare country code or a JSON object
	// with a country_code field, depending on the service configured.
	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	body := strings.TrimSpace(string(buf[:n]))
	if body == "" {
		return "", fmt.Errorf("empty geo response")
	}

	if strings.HasPrefix(body, "{") {
		var parsed struct {
			CountryCode string `json:"country_code"`
		}
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return "", fmt.Errorf("failed to parse geo response: %w", err)
		}
		body = parsed.CountryCode
	}

	body = strings.ToUpper(strings.TrimSpace(body))
	if len(body) != 2 {
		return "", fmt.Errorf("unexpected geo response %q", body)
	}
	return body, nil
}

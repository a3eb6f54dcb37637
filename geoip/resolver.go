// Package geoip resolves client IP addresses to coarse locations through the
// ipapi.co lookup service. Resolution never fails: private addresses and any
// upstream problem yield models.UnknownLocation.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/metrics"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
)

const (
	DefaultBaseURL  = "https://ipapi.co"
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = time.Hour

	breakerName        = "geoip-upstream"
	breakerTripAfter   = 5
	breakerOpenTimeout = 30 * time.Second
)

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
	// Client is used for upstream calls; a client with Timeout is built when nil.
	Client *http.Client
}

type ipapiResponse struct {
	CountryName string   `json:"country_name"`
	CountryCode string   `json:"country_code"`
	City        string   `json:"city"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

// Resolver is safe for concurrent use.
type Resolver struct {
	baseURL string
	timeout time.Duration
	ttl     time.Duration
	client  *http.Client
	cache   *ristretto.Cache[string, models.Location]
	cb      *gobreaker.CircuitBreaker[models.Location]
}

func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, models.Location]{
		NumCounters:        100_000,
		MaxCost:            10_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create geo cache: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker[models.Location](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("GeoIP circuit breaker state change")
		},
	})

	return &Resolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		ttl:     cfg.CacheTTL,
		client:  cfg.Client,
		cache:   cache,
		cb:      cb,
	}, nil
}

// Close releases the cache's background goroutines.
func (r *Resolver) Close() {
	r.cache.Close()
}

// Resolve returns the location for ip.
func (r *Resolver) Resolve(ctx context.Context, ip string) models.Location {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		metrics.GeoIPLookupsTotal.WithLabelValues(metrics.GeoFailure).Inc()
		logging.Ctx(ctx).Warn().Str("ip", ip).Msg("GeoIP lookup skipped: unparsable address")
		return models.UnknownLocation()
	}
	if isNonPublic(addr) {
		metrics.GeoIPLookupsTotal.WithLabelValues(metrics.GeoPrivate).Inc()
		return models.UnknownLocation()
	}

	key := addr.Unmap().String()
	if loc, ok := r.cache.Get(key); ok {
		metrics.GeoIPLookupsTotal.WithLabelValues(metrics.GeoCacheHit).Inc()
		return loc
	}

	loc, err := r.cb.Execute(func() (models.Location, error) {
		return r.lookup(ctx, key)
	})
	if err != nil {
		metrics.GeoIPLookupsTotal.WithLabelValues(metrics.GeoFailure).Inc()
		logging.Ctx(ctx).Error().Err(err).Str("ip", key).Msg("GeoIP lookup failed")
		return models.UnknownLocation()
	}

	metrics.GeoIPLookupsTotal.WithLabelValues(metrics.GeoSuccess).Inc()
	r.cache.SetWithTTL(key, loc, 1, r.ttl)
	return loc
}

func (r *Resolver) lookup(ctx context.Context, ip string) (models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/json/", r.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return models.Location{}, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return models.Location{}, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return models.Location{}, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	if body.Error {
		return models.Location{}, errors.New("upstream error: " + body.Reason)
	}

	return toLocation(body), nil
}

func toLocation(body ipapiResponse) models.Location {
	loc := models.UnknownLocation()
	if body.CountryName != "" {
		loc.Country = body.CountryName
	}
	if body.CountryCode != "" {
		loc.CountryCode = body.CountryCode
	}
	if body.City != "" {
		city := body.City
		loc.City = &city
	}
	if body.Latitude != nil {
		loc.Latitude = *body.Latitude
	}
	if body.Longitude != nil {
		loc.Longitude = *body.Longitude
	}
	return loc
}

// isNonPublic covers loopback, RFC1918, link-local, ULA and unspecified addresses.
func isNonPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

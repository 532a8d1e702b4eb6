package location

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Coordinates is a WGS84 lat/lng pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route is the outcome of a distance lookup. Source records whether the
// routing provider answered or the haversine fallback was used.
type Route struct {
	DistanceKm      float64
	DurationMinutes *float64
	Source          string
}

// Config carries the external-provider settings for a Resolver.
type Config struct {
	UserAgent string
	ORSAPIKey string
	Timeout   time.Duration
}

// Resolver turns (city, state) pairs into coordinates and coordinate pairs
// into road distances, degrading to great-circle math whenever a provider is
// slow or unavailable. Assignment ranking must never block on a provider.
type Resolver struct {
	cache        Cache
	client       *http.Client
	logger       *zap.Logger
	userAgent    string
	orsAPIKey    string
	timeout      time.Duration
	nominatimURL string
	orsURL       string
}

// NewResolver builds a Resolver around the given cache.
func NewResolver(cache Cache, cfg Config, logger *zap.Logger) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:        cache,
		client:       &http.Client{},
		logger:       logger,
		userAgent:    cfg.UserAgent,
		orsAPIKey:    cfg.ORSAPIKey,
		timeout:      timeout,
		nominatimURL: "https://nominatim.openstreetmap.org/search",
		orsURL:       "https://api.openrouteservice.org/v2/directions/driving-car",
	}
}

// WithBaseURLs overrides provider endpoints, used by tests.
func (r *Resolver) WithBaseURLs(nominatim, ors string) *Resolver {
	if nominatim != "" {
		r.nominatimURL = nominatim
	}
	if ors != "" {
		r.orsURL = ors
	}
	return r
}

// WithHTTPClient overrides the HTTP client, used by tests.
func (r *Resolver) WithHTTPClient(client *http.Client) *Resolver {
	r.client = client
	return r
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func buildLocationQuery(city, state string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{city, state, "India"} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 1 {
		// Only the country constant survived; the caller gave us nothing.
		return ""
	}
	return strings.Join(parts, ", ")
}

// Geocode resolves a (city, state) pair to coordinates. A nil result with a
// nil error means the location could not be resolved; that outcome is cached
// so the provider is not hammered with known-bad queries.
func (r *Resolver) Geocode(ctx context.Context, city, state string) (*Coordinates, error) {
	query := buildLocationQuery(city, state)
	if query == "" {
		return nil, nil
	}

	cacheKey := normalize(query)
	if cached, ok, err := r.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	} else if err != nil {
		r.logger.Warn("geocode cache read failed", zap.Error(err))
	}

	coords := r.fetchCoordinates(ctx, query)
	if err := r.cache.Set(ctx, cacheKey, coords); err != nil {
		r.logger.Warn("geocode cache write failed", zap.Error(err))
	}
	return coords, nil
}

func (r *Resolver) fetchCoordinates(ctx context.Context, query string) *Coordinates {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	endpoint := r.nominatimURL + "?format=json&limit=1&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("geocode request failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil || len(results) == 0 {
		return nil
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(results[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		return nil
	}

	return &Coordinates{Lat: lat, Lng: lng}
}

// Distance computes a driving distance between two coordinates, or the
// great-circle distance when the routing provider is not configured or
// unavailable. Unknown endpoints yield an infinite distance so they rank
// behind every resolvable candidate.
func (r *Resolver) Distance(ctx context.Context, from, to *Coordinates) Route {
	if from == nil || to == nil {
		return Route{DistanceKm: math.Inf(1), Source: "none"}
	}

	if r.orsAPIKey == "" {
		return Route{DistanceKm: haversineKm(*from, *to), Source: "haversine"}
	}

	route, err := r.fetchRoute(ctx, *from, *to)
	if err != nil {
		r.logger.Debug("route request failed, falling back", zap.Error(err))
		return Route{DistanceKm: haversineKm(*from, *to), Source: "haversine"}
	}
	return route
}

func (r *Resolver) fetchRoute(ctx context.Context, from, to Coordinates) (Route, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"coordinates": [][]float64{
			{from.Lng, from.Lat},
			{to.Lng, to.Lat},
		},
	})
	if err != nil {
		return Route{}, fmt.Errorf("location: encode route request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.orsURL, bytes.NewReader(body))
	if err != nil {
		return Route{}, fmt.Errorf("location: build route request: %w", err)
	}
	req.Header.Set("Authorization", r.orsAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("location: route request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("location: route provider status %d", resp.StatusCode)
	}

	var payload struct {
		Routes []struct {
			Summary struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Route{}, fmt.Errorf("location: decode route response: %w", err)
	}
	if len(payload.Routes) == 0 || payload.Routes[0].Summary.Distance == 0 {
		return Route{}, fmt.Errorf("location: empty route summary")
	}

	summary := payload.Routes[0].Summary
	route := Route{
		DistanceKm: summary.Distance / 1000,
		Source:     "ors",
	}
	if summary.Duration > 0 {
		minutes := summary.Duration / 60
		route.DurationMinutes = &minutes
	}
	return route, nil
}

const earthRadiusKm = 6371

func haversineKm(a, b Coordinates) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	latDiff := toRad(b.Lat - a.Lat)
	lngDiff := toRad(b.Lng - a.Lng)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	h := math.Pow(math.Sin(latDiff/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(lngDiff/2), 2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

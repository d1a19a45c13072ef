// Package ais queries the vessel proximity service for ships near a point.
package ais

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/resilience"
)

const (
	defaultBaseURL          = "http://127.0.0.1:8000"
	defaultTailHours        = 0.1
	defaultSimWindowMinutes = 120

	earthRadiusKm = 6371.0088
)

// Query describes a proximity lookup.
type Query struct {
	Latitude         float64
	Longitude        float64
	RadiusKm         float64
	TailHours        float64
	SimWindowMinutes int
}

// Client finds vessels near a location.
type Client interface {
	// Nearby returns vessels within q.RadiusKm ordered by distance.
	Nearby(ctx context.Context, q Query) ([]model.Vessel, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithBreaker guards requests with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewClient creates a proximity service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ship is the wire record returned by GET /ships.
type ship struct {
	VesselName string   `json:"vessel_name"`
	MMSI       any      `json:"mmsi"`
	IMO        any      `json:"imo"`
	DistanceKm *float64 `json:"distance_km"`
	Heading    *float64 `json:"heading"`
	Length     *float64 `json:"length"`
	Width      *float64 `json:"width"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
}

func (c *httpClient) Nearby(ctx context.Context, q Query) ([]model.Vessel, error) {
	if c.breaker == nil {
		return c.fetch(ctx, q)
	}
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]model.Vessel, error) {
		return c.fetch(ctx, q)
	})
}

func (c *httpClient) fetch(ctx context.Context, q Query) ([]model.Vessel, error) {
	if q.TailHours <= 0 {
		q.TailHours = defaultTailHours
	}
	if q.SimWindowMinutes <= 0 {
		q.SimWindowMinutes = defaultSimWindowMinutes
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	params.Set("radius", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	params.Set("tail_hours", strconv.FormatFloat(q.TailHours, 'f', -1, 64))
	params.Set("sim_window_minutes", strconv.Itoa(q.SimWindowMinutes))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ships?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "ais: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ais: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ais: read response"), 0)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("ais", resp.StatusCode, body)
	}

	var ships []ship
	if err := json.Unmarshal(body, &ships); err != nil {
		return nil, eris.Wrap(err, "ais: unmarshal response")
	}

	origin := s2.LatLngFromDegrees(q.Latitude, q.Longitude)
	vessels := make([]model.Vessel, 0, len(ships))
	for _, s := range ships {
		v := model.Vessel{
			Name:      s.VesselName,
			MMSI:      idString(s.MMSI),
			IMO:       idString(s.IMO),
			Heading:   s.Heading,
			Length:    s.Length,
			Width:     s.Width,
			Latitude:  s.Lat,
			Longitude: s.Lon,
		}
		switch {
		case s.DistanceKm != nil:
			v.DistanceKm = *s.DistanceKm
		case s.Lat != nil && s.Lon != nil:
			v.DistanceKm = DistanceKm(origin, s2.LatLngFromDegrees(*s.Lat, *s.Lon))
		}
		vessels = append(vessels, v)
	}
	sort.SliceStable(vessels, func(i, j int) bool {
		return vessels[i].DistanceKm < vessels[j].DistanceKm
	})
	return vessels, nil
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b s2.LatLng) float64 {
	return a.Distance(b).Radians() * earthRadiusKm
}

// idString normalizes identifiers the service sends as either numbers or
// strings.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

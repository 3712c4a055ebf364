// Package geo resolves customer addresses to coordinates via the Google
// Geocoding API. Enrichment is best-effort; callers treat failures as
// "no location known".
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// ErrNoResults is returned when the geocoder finds nothing for a query.
var ErrNoResults = errors.New("geo: no results")

// Location is a resolved point with its formatted address.
type Location struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
}

// Geocoder turns free-text addresses into coordinates.
type Geocoder struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeocoder creates a geocoder. An empty API key produces a disabled
// geocoder whose lookups fail with ErrNoResults.
func NewGeocoder(apiKey string) *Geocoder {
	return &Geocoder{
		apiKey:  apiKey,
		baseURL: googleGeocodeURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint. Used for tests and regional
// proxies; an empty value keeps the default.
func (g *Geocoder) WithBaseURL(url string) *Geocoder {
	if url != "" {
		g.baseURL = url
	}
	return g
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves an address string.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*Location, error) {
	if g.apiKey == "" || address == "" {
		return nil, ErrNoResults
	}

	q := url.Values{}
	q.Set("address", address)
	return g.lookup(ctx, q)
}

// ReverseGeocode resolves coordinates from a shared-location message into
// a formatted address.
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*Location, error) {
	if g.apiKey == "" {
		return nil, ErrNoResults
	}

	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", lat, lng))
	return g.lookup(ctx, q)
}

func (g *Geocoder) lookup(ctx context.Context, q url.Values) (*Location, error) {
	q.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geo: build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("geo: geocode returned %d: %s", resp.StatusCode, body)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("geo: decode response: %w", err)
	}
	if decoded.Status == "ZERO_RESULTS" || len(decoded.Results) == 0 {
		return nil, ErrNoResults
	}
	if decoded.Status != "OK" {
		return nil, fmt.Errorf("geo: geocode status %s", decoded.Status)
	}

	first := decoded.Results[0]
	return &Location{
		Latitude:         first.Geometry.Location.Lat,
		Longitude:        first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}, nil
}

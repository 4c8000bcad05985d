package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultNominatimURL is the public OpenStreetMap search endpoint. Its usage
// policy allows one request per second with an identifying User-Agent.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// NominatimGeocoder resolves hints with a Nominatim search endpoint
type NominatimGeocoder struct {
	baseURL     string
	userAgent   string
	countryCode string
	client      *http.Client
}

// nominatimPlace is one search result. Coordinates arrive as strings.
type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// NewNominatimGeocoder creates a client for baseURL. countryCode narrows the
// search (e.g. "ch") and may be empty.
func NewNominatimGeocoder(baseURL, userAgent, countryCode string) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimGeocoder{
		baseURL:     baseURL,
		userAgent:   userAgent,
		countryCode: countryCode,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Geocode implements Geocoder
func (n *NominatimGeocoder) Geocode(ctx context.Context, hint string) (Point, error) {
	params := url.Values{}
	params.Set("q", hint)
	params.Set("format", "json")
	params.Set("limit", "1")
	if n.countryCode != "" {
		params.Set("countrycodes", n.countryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Point{}, fmt.Errorf("geocode request returned %d: %s", resp.StatusCode, string(body))
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return Point{}, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(places) == 0 {
		return Point{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude %q: %w", places[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude %q: %w", places[0].Lon, err)
	}
	p := Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Point{}, fmt.Errorf("geocoder returned out of range point %s", p)
	}
	return p, nil
}

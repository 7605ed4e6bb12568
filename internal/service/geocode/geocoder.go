// internal/service/geocode/geocoder.go

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
)

// Geocoder resolves a coordinate pair to a human-readable place name.
type Geocoder interface {
	NameFor(ctx context.Context, p geo.Point) (string, error)
}

// FallbackLabel is the coordinate-based label used when no place name can
// be resolved.
func FallbackLabel(p geo.Point) string {
	return fmt.Sprintf("%.2f, %.2f", p.Latitude, p.Longitude)
}

// StaticGeocoder always degrades to the coordinate label. It is the default
// when no geocoding provider is configured.
type StaticGeocoder struct{}

// NewStaticGeocoder creates a geocoder that returns coordinate labels.
func NewStaticGeocoder() *StaticGeocoder {
	return &StaticGeocoder{}
}

// NameFor returns a rounded-coordinate label.
func (g *StaticGeocoder) NameFor(_ context.Context, p geo.Point) (string, error) {
	return FallbackLabel(p), nil
}

// NominatimGeocoder resolves place names through the OpenStreetMap
// Nominatim reverse endpoint.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatimGeocoder creates a Nominatim-backed geocoder. Nominatim's
// usage policy requires an identifying user agent.
func NewNominatimGeocoder(baseURL, userAgent string, timeout time.Duration) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &NominatimGeocoder{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// NameFor performs a reverse lookup. Failures wrap ErrGeocodeFailed so
// callers can degrade to the coordinate label.
func (g *NominatimGeocoder) NameFor(ctx context.Context, p geo.Point) (string, error) {
	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", fmt.Sprintf("%f", p.Latitude))
	query.Set("lon", fmt.Sprintf("%f", p.Longitude))
	query.Set("zoom", "16")

	reqURL := fmt.Sprintf("%s/reverse?%s", g.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", message.ErrGeocodeFailed, err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", message.ErrGeocodeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", message.ErrGeocodeFailed, resp.StatusCode)
	}

	var body struct {
		Name    string `json:"name"`
		Address struct {
			Suburb string `json:"suburb"`
			City   string `json:"city"`
			Town   string `json:"town"`
		} `json:"address"`
		DisplayName string `json:"display_name"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", message.ErrGeocodeFailed, err)
	}

	// Prefer the most local name available.
	switch {
	case body.Name != "":
		return body.Name, nil
	case body.Address.Suburb != "":
		return body.Address.Suburb, nil
	case body.Address.City != "":
		return body.Address.City, nil
	case body.Address.Town != "":
		return body.Address.Town, nil
	case body.DisplayName != "":
		return body.DisplayName, nil
	}

	return "", fmt.Errorf("%w: empty response", message.ErrGeocodeFailed)
}

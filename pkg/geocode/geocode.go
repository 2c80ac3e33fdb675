package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

// MaxResults caps how many candidates a search returns
const MaxResults = 10

// ErrGeocodingUnavailable is returned when a lookup fails or finds nothing
var ErrGeocodingUnavailable = errors.New("geocoding unavailable")

// Result is a candidate point for a free-text query
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Geocoder resolves free text to candidate points
type Geocoder interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// GoogleGeocoder uses the Google Geocoding API
type GoogleGeocoder struct {
	client *maps.Client
	region string
}

// NewGoogleGeocoder creates a geocoder. Extra client options (base URL, rate limit) are passed through.
func NewGoogleGeocoder(apiKey, region string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return &GoogleGeocoder{client: client, region: region}, nil
}

func (g *GoogleGeocoder) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrGeocodingUnavailable)
	}

	resp, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: query,
		Region:  g.region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocodingUnavailable, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: no results for %q", ErrGeocodingUnavailable, query)
	}

	if len(resp) > MaxResults {
		resp = resp[:MaxResults]
	}
	results := make([]Result, 0, len(resp))
	for _, r := range resp {
		results = append(results, Result{
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
			Address:   r.FormattedAddress,
		})
	}
	return results, nil
}

// Unavailable is the geocoder used when no API key is configured
type Unavailable struct{}

func (Unavailable) Search(context.Context, string) ([]Result, error) {
	return nil, ErrGeocodingUnavailable
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/picker"
	"github.com/markus-lassfolk/locnotifier/pkg/telem"
)

// APIError is a non-2xx reply from the daemon
type APIError struct {
	StatusCode int
	ErrorResponse
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%d): %s", e.ErrorResponse.Error, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("%s (%d)", e.ErrorResponse.Error, e.StatusCode)
}

// Client talks to the control API of a running locnotifierd
type Client struct {
	base   string
	key    string
	client *http.Client
}

// NewClient creates a client for the API at base, e.g. http://127.0.0.1:8089
func NewClient(base, key string, timeout time.Duration) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:   strings.TrimSuffix(base, "/"),
		key:    key,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set(AuthHeader, c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach locnotifierd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.ErrorResponse); err != nil {
			apiErr.ErrorResponse.Error = resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodPost, "/api/start", nil, &out)
	return out, err
}

func (c *Client) Stop(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodPost, "/api/stop", nil, &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &out)
	return out, err
}

func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	return c.do(ctx, http.MethodPut, "/api/settings/"+url.PathEscape(key), SettingValue{Value: value}, nil)
}

func (c *Client) Picker(ctx context.Context) (picker.State, error) {
	var out picker.State
	err := c.do(ctx, http.MethodGet, "/api/picker", nil, &out)
	return out, err
}

// LoadPicker restages the saved destination
func (c *Client) LoadPicker(ctx context.Context) (picker.State, error) {
	var out picker.State
	err := c.do(ctx, http.MethodPost, "/api/picker/load", nil, &out)
	return out, err
}

func (c *Client) DropPin(ctx context.Context, lat, lng float64) (picker.State, error) {
	var out picker.State
	err := c.do(ctx, http.MethodPost, "/api/picker/pin", PinRequest{Latitude: lat, Longitude: lng}, &out)
	return out, err
}

func (c *Client) SetRadius(ctx context.Context, meters int64) (int64, error) {
	var out RadiusResponse
	err := c.do(ctx, http.MethodPost, "/api/picker/radius", RadiusRequest{Meters: meters}, &out)
	return out.Radius, err
}

func (c *Client) AdjustRadius(ctx context.Context, progress, zoom, maxZoom int) (int64, error) {
	var out RadiusResponse
	err := c.do(ctx, http.MethodPost, "/api/picker/adjust", AdjustRequest{Progress: progress, Zoom: zoom, MaxZoom: maxZoom}, &out)
	return out.Radius, err
}

func (c *Client) SetUseGPS(ctx context.Context, enabled bool) (picker.State, error) {
	var out picker.State
	err := c.do(ctx, http.MethodPost, "/api/picker/gps", GPSRequest{Enabled: enabled}, &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, query string) ([]geocode.Result, error) {
	var out SearchResponse
	err := c.do(ctx, http.MethodPost, "/api/picker/search", SearchRequest{Query: query}, &out)
	return out.Results, err
}

func (c *Client) SelectResult(ctx context.Context, index int) (geocode.Result, error) {
	var out geocode.Result
	err := c.do(ctx, http.MethodPost, "/api/picker/select", SelectRequest{Index: index}, &out)
	return out, err
}

func (c *Client) Save(ctx context.Context) (pkg.Destination, error) {
	var out pkg.Destination
	err := c.do(ctx, http.MethodPost, "/api/picker/save", nil, &out)
	return out, err
}

func (c *Client) Fixes(ctx context.Context, limit int) ([]telem.FixEntry, error) {
	var out []telem.FixEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/fixes?limit=%d", limit), nil, &out)
	return out, err
}

func (c *Client) Arrivals(ctx context.Context, limit int) ([]pkg.Arrival, error) {
	var out []pkg.Arrival
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/arrivals?limit=%d", limit), nil, &out)
	return out, err
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/picker"
	"github.com/markus-lassfolk/locnotifier/pkg/settings"
	"github.com/markus-lassfolk/locnotifier/pkg/telem"
	"github.com/markus-lassfolk/locnotifier/pkg/watcher"
)

type fakeService struct {
	mu       sync.Mutex
	running  bool
	startErr error
	dest     pkg.Destination
}

func (f *fakeService) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.running {
		return watcher.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeService) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeService) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeService) Restart() error { return nil }

func (f *fakeService) Snapshot() watcher.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := pkg.StateStopped
	if f.running {
		state = pkg.StateWatching
	}
	return watcher.Snapshot{State: state, Destination: f.dest}
}

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]interface{}
	dest   *pkg.Destination
	useGPS bool
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: map[string]interface{}{}}
}

func (f *fakeSettings) Dump() (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]interface{}, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSettings) SetString(key, raw string) error {
	switch key {
	case "imperial":
		if raw != "true" && raw != "false" {
			return fmt.Errorf("%w: %s", settings.ErrWrongType, key)
		}
	case "tone":
	default:
		return fmt.Errorf("%w: %s", settings.ErrUnknownKey, key)
	}
	f.mu.Lock()
	f.values[key] = raw
	f.mu.Unlock()
	return nil
}

func (f *fakeSettings) Destination() (pkg.Destination, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dest == nil {
		return pkg.Destination{}, false
	}
	return *f.dest, true
}

func (f *fakeSettings) GetBool(key string, def bool) bool { return def }

func (f *fakeSettings) SaveDestination(dest pkg.Destination, useGPS bool) error {
	f.mu.Lock()
	f.dest = &dest
	f.useGPS = useGPS
	f.mu.Unlock()
	return nil
}

type staticGeocoder struct {
	results []geocode.Result
	err     error
}

func (g staticGeocoder) Search(ctx context.Context, query string) ([]geocode.Result, error) {
	return g.results, g.err
}

type fakeHistory struct {
	arrivals []pkg.Arrival
	err      error
}

func (f fakeHistory) RecentArrivals(ctx context.Context, limit int) ([]pkg.Arrival, error) {
	return f.arrivals, f.err
}

type harness struct {
	service  *fakeService
	settings *fakeSettings
	picker   *picker.Picker
	fixes    *telem.Store
	client   *Client
	srv      *httptest.Server
}

func newHarness(t *testing.T, cfg Config, geocoder geocode.Geocoder, key string) *harness {
	t.Helper()
	h := &harness{
		service:  &fakeService{},
		settings: newFakeSettings(),
		fixes:    telem.NewStore(10),
	}
	h.picker = picker.New(h.settings, geocoder, h.service, logx.NewNopLogger())
	t.Cleanup(h.picker.Close)

	server := NewServer(cfg, Deps{
		Service:  h.service,
		Settings: h.settings,
		Picker:   h.picker,
		Fixes:    h.fixes,
		History: fakeHistory{arrivals: []pkg.Arrival{{
			Destination:    pkg.Destination{Latitude: 1, Longitude: 2, Radius: 100},
			DistanceMeters: 42,
			Timestamp:      time.UnixMilli(1700000000000),
		}}},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "locnotifier_arrivals_total 1")
		}),
	}, logx.NewNopLogger())

	h.srv = httptest.NewServer(server.Handler())
	t.Cleanup(h.srv.Close)
	h.client = NewClient(h.srv.URL, key, 5*time.Second)
	return h
}

func TestStartStopStatus(t *testing.T) {
	h := newHarness(t, Config{}, staticGeocoder{}, "")
	ctx := context.Background()

	status, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Equal(t, pkg.StateStopped, status.Watcher.State)

	status, err = h.client.Start(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, pkg.StateWatching, status.Watcher.State)

	_, err = h.client.Start(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	status, err = h.client.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestStartWithoutDestination(t *testing.T) {
	h := newHarness(t, Config{}, staticGeocoder{}, "")
	h.service.startErr = &watcher.ConfigurationError{Reason: "no destination saved"}

	_, err := h.client.Start(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Details, "no destination saved")
}

func TestSettingsEndpoints(t *testing.T) {
	h := newHarness(t, Config{}, staticGeocoder{}, "")
	ctx := context.Background()

	require.NoError(t, h.client.SetSetting(ctx, "imperial", "true"))
	values, err := h.client.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "true", values["imperial"])

	var apiErr *APIError
	require.ErrorAs(t, h.client.SetSetting(ctx, "imperial", "maybe"), &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	require.ErrorAs(t, h.client.SetSetting(ctx, "colour", "red"), &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestPickerFlowOverHTTP(t *testing.T) {
	geocoder := staticGeocoder{results: []geocode.Result{
		{Latitude: 59.33, Longitude: 18.06, Address: "Stockholm"},
		{Latitude: 57.70, Longitude: 11.97, Address: "Gothenburg"},
	}}
	h := newHarness(t, Config{}, geocoder, "")
	ctx := context.Background()

	_, err := h.client.Save(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	results, err := h.client.Search(ctx, "stockholm")
	require.NoError(t, err)
	require.Len(t, results, 2)

	selected, err := h.client.SelectResult(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Gothenburg", selected.Address)

	_, err = h.client.SelectResult(ctx, 7)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	radius, err := h.client.SetRadius(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, picker.MinRadius, radius)

	radius, err = h.client.AdjustRadius(ctx, 8, 21, 21)
	require.NoError(t, err)
	assert.Equal(t, int64(54), radius)

	state, err := h.client.SetUseGPS(ctx, false)
	require.NoError(t, err)
	assert.False(t, state.UseGPS)
	require.NotNil(t, state.Point)
	assert.Equal(t, 57.70, state.Point.Latitude)

	dest, err := h.client.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(54), dest.Radius)

	saved, ok := h.settings.Destination()
	require.True(t, ok)
	assert.Equal(t, dest, saved)
	assert.False(t, h.settings.useGPS)

	_, err = h.client.DropPin(ctx, 91, 0)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	state, err = h.client.DropPin(ctx, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 20.0, state.Point.Longitude)

	state, err = h.client.LoadPicker(ctx)
	require.NoError(t, err)
	assert.Equal(t, 57.70, state.Point.Latitude)
	assert.Equal(t, int64(54), state.Radius)
}

func TestSearchUnavailable(t *testing.T) {
	h := newHarness(t, Config{}, staticGeocoder{err: errors.New("REQUEST_DENIED")}, "")

	_, err := h.client.Search(context.Background(), "anywhere")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestFixesAndArrivals(t *testing.T) {
	h := newHarness(t, Config{}, staticGeocoder{}, "")
	ctx := context.Background()
	h.fixes.Add(pkg.LocationFix{Latitude: 1, Provider: "network", Timestamp: 1}, true)
	h.fixes.Add(pkg.LocationFix{Latitude: 2, Provider: "gps", Timestamp: 2}, false)

	fixes, err := h.client.Fixes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "gps", fixes[0].Fix.Provider)
	assert.False(t, fixes[0].Accepted)

	arrivals, err := h.client.Arrivals(ctx, 5)
	require.NoError(t, err)
	require.Len(t, arrivals, 1)
	assert.Equal(t, 42.0, arrivals[0].DistanceMeters)
}

func TestAuthRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	h := newHarness(t, Config{KeyHash: string(hash)}, staticGeocoder{}, "s3cret")
	_, err = h.client.Status(context.Background())
	require.NoError(t, err)

	anonymous := NewClient(h.srv.URL, "", time.Second)
	_, err = anonymous.Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	resp, err := http.Get(h.srv.URL + "/metrics?auth=s3cret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBadBodyAndMethod(t *testing.T) {
	h := newHarness(t, Config{}, staticGeocoder{}, "")

	resp, err := http.Post(h.srv.URL+"/api/picker/pin", "application/json", strings.NewReader(`{"lat":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/api/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

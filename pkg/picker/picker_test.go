package picker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/metrics"
)

type memStore struct {
	mu      sync.Mutex
	dest    pkg.Destination
	saved   bool
	useGPS  *bool
	saves   int
	saveErr error
}

func (s *memStore) Destination() (pkg.Destination, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dest, s.saved
}

func (s *memStore) GetBool(key string, def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == useGPSKey && s.useGPS != nil {
		return *s.useGPS
	}
	return def
}

func (s *memStore) SaveDestination(dest pkg.Destination, useGPS bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.dest = dest
	s.saved = true
	s.useGPS = &useGPS
	s.saves++
	return nil
}

type fakeRestarter struct {
	running  bool
	restarts int
	err      error
}

func (r *fakeRestarter) IsRunning() bool { return r.running }

func (r *fakeRestarter) Restart() error {
	r.restarts++
	return r.err
}

// gatedGeocoder blocks every search until release is closed
type gatedGeocoder struct {
	release chan struct{}
	results []geocode.Result
	err     error
	calls   chan string
}

func newGatedGeocoder(results []geocode.Result, err error) *gatedGeocoder {
	return &gatedGeocoder{
		release: make(chan struct{}),
		results: results,
		err:     err,
		calls:   make(chan string, 8),
	}
}

func (g *gatedGeocoder) Search(ctx context.Context, query string) ([]geocode.Result, error) {
	g.calls <- query
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.results, g.err
}

var philly = []geocode.Result{
	{Latitude: 39.9489, Longitude: -75.15, Address: "Independence Hall"},
	{Latitude: 39.9526, Longitude: -75.1652, Address: "City Hall"},
}

func newTestPicker(store *memStore, g geocode.Geocoder, r Restarter) *Picker {
	return New(store, g, r, logx.NewNopLogger())
}

func TestLoadDefaults(t *testing.T) {
	p := newTestPicker(&memStore{}, nil, nil)
	p.Load()

	state := p.Snapshot()
	assert.Nil(t, state.Point)
	assert.Equal(t, MinRadius, state.Radius)
	assert.True(t, state.UseGPS)
	assert.False(t, state.Busy)
}

func TestLoadPersisted(t *testing.T) {
	off := false
	store := &memStore{dest: pkg.Destination{Latitude: 40, Longitude: -75, Radius: 300}, saved: true, useGPS: &off}
	p := newTestPicker(store, nil, nil)
	p.Load()

	state := p.Snapshot()
	require.NotNil(t, state.Point)
	assert.Equal(t, 40.0, state.Point.Latitude)
	assert.Equal(t, int64(300), state.Radius)
	assert.False(t, state.UseGPS)
}

func TestDropPinAndSetRadius(t *testing.T) {
	p := newTestPicker(&memStore{}, nil, nil)

	require.NoError(t, p.DropPin(51.5, -0.12))
	assert.ErrorIs(t, p.DropPin(91, 0), ErrInvalidPoint)
	assert.Equal(t, 51.5, p.Snapshot().Point.Latitude)

	assert.Equal(t, int64(250), p.SetRadius(250))
	assert.Equal(t, MinRadius, p.SetRadius(10))
}

func TestAdjustRadius(t *testing.T) {
	const maxZoom = 21

	tests := []struct {
		name     string
		start    int64
		progress int
		zoom     int
		want     int64
	}{
		{"midpoint is a no-op", 120, 4, 15, 120},
		{"full right fully zoomed in", 50, 8, 21, 54},
		{"full right zoomed out", 50, 8, 18, 82},
		{"full left zoomed out", 100, 0, 18, 68},
		{"small step truncates to nothing", 50, 5, 21, 50},
		{"never below the minimum", 300, 3, 10, 50},
		{"one step right at neutral zoom", 50, 5, 19, 52},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPicker(&memStore{}, nil, nil)
			p.SetRadius(tt.start)
			got, err := p.AdjustRadius(tt.progress, tt.zoom, maxZoom)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	p := newTestPicker(&memStore{}, nil, nil)
	_, err := p.AdjustRadius(9, 15, maxZoom)
	assert.Error(t, err)
	_, err = p.AdjustRadius(-1, 15, maxZoom)
	assert.Error(t, err)
}

func TestSaveWithoutPoint(t *testing.T) {
	store := &memStore{}
	p := newTestPicker(store, nil, nil)
	p.Load()

	_, err := p.Save()
	assert.ErrorIs(t, err, ErrNoDestination)
	assert.Equal(t, 0, store.saves)
}

func TestSave(t *testing.T) {
	store := &memStore{}
	restarter := &fakeRestarter{}
	p := newTestPicker(store, nil, restarter)
	p.Load()

	require.NoError(t, p.DropPin(40, -75))
	p.SetRadius(120)
	p.SetUseGPS(false)

	dest, err := p.Save()
	require.NoError(t, err)
	assert.Equal(t, pkg.Destination{Latitude: 40, Longitude: -75, Radius: 120}, dest)
	assert.Equal(t, dest, store.dest)
	assert.False(t, *store.useGPS)
	assert.Equal(t, 0, restarter.restarts, "stopped watcher is left alone")
}

func TestSaveKeepsPersistedPoint(t *testing.T) {
	store := &memStore{dest: pkg.Destination{Latitude: 40, Longitude: -75, Radius: 100}, saved: true}
	p := newTestPicker(store, nil, nil)
	p.Load()
	p.SetRadius(400)

	dest, err := p.Save()
	require.NoError(t, err)
	assert.Equal(t, 40.0, dest.Latitude)
	assert.Equal(t, float32(400), dest.Radius)
}

func TestSaveRestartsRunningWatcher(t *testing.T) {
	restarter := &fakeRestarter{running: true}
	p := newTestPicker(&memStore{}, nil, restarter)
	require.NoError(t, p.DropPin(40, -75))

	_, err := p.Save()
	require.NoError(t, err)
	assert.Equal(t, 1, restarter.restarts)

	restarter.err = errors.New("no provider")
	_, err = p.Save()
	assert.ErrorContains(t, err, "restart failed")
}

func TestSaveStoreFailureLeavesPrevious(t *testing.T) {
	store := &memStore{saveErr: errors.New("read-only filesystem")}
	p := newTestPicker(store, nil, nil)
	require.NoError(t, p.DropPin(40, -75))

	_, err := p.Save()
	assert.Error(t, err)
	assert.False(t, store.saved)
}

func TestSearchAndSelect(t *testing.T) {
	g := newGatedGeocoder(philly, nil)
	p := newTestPicker(&memStore{}, g, nil)
	collector := metrics.NewCollector(false)
	p.SetMetrics(collector)

	done := make(chan []geocode.Result, 1)
	require.NoError(t, p.Search(context.Background(), "independence", func(results []geocode.Result, err error) {
		assert.NoError(t, err)
		done <- results
	}))

	assert.Equal(t, "independence", <-g.calls)
	assert.True(t, p.Busy())
	close(g.release)

	select {
	case results := <-done:
		assert.Len(t, results, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("search callback not invoked")
	}
	assert.False(t, p.Busy())

	r, err := p.SelectResult(1)
	require.NoError(t, err)
	assert.Equal(t, "City Hall", r.Address)
	assert.Equal(t, 39.9526, p.Snapshot().Point.Latitude)

	_, err = p.SelectResult(2)
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestSearchNoResults(t *testing.T) {
	g := newGatedGeocoder(nil, nil)
	close(g.release)
	p := newTestPicker(&memStore{}, g, nil)

	done := make(chan error, 1)
	require.NoError(t, p.Search(context.Background(), "nowhere", func(_ []geocode.Result, err error) {
		done <- err
	}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, geocode.ErrGeocodingUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("search callback not invoked")
	}
	assert.Empty(t, p.Results())
}

func TestSearchFailureIsUnavailable(t *testing.T) {
	g := newGatedGeocoder(nil, errors.New("dns failure"))
	close(g.release)
	p := newTestPicker(&memStore{}, g, nil)

	done := make(chan error, 1)
	require.NoError(t, p.Search(context.Background(), "somewhere", func(_ []geocode.Result, err error) {
		done <- err
	}))
	assert.ErrorIs(t, <-done, geocode.ErrGeocodingUnavailable)
}

func TestNewerSearchSupersedesPending(t *testing.T) {
	g := newGatedGeocoder(philly, nil)
	p := newTestPicker(&memStore{}, g, nil)

	var mu sync.Mutex
	var calls []string
	record := func(name string) SearchCallback {
		return func([]geocode.Result, error) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}

	require.NoError(t, p.Search(context.Background(), "first", record("first")))
	<-g.calls
	require.NoError(t, p.Search(context.Background(), "second", record("second")))
	<-g.calls
	close(g.release)

	require.Eventually(t, func() bool { return !p.Busy() }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, calls)
}

func TestCloseAbandonsPendingSearch(t *testing.T) {
	g := newGatedGeocoder(philly, nil)
	p := newTestPicker(&memStore{}, g, nil)

	called := make(chan struct{}, 1)
	require.NoError(t, p.Search(context.Background(), "independence", func([]geocode.Result, error) {
		called <- struct{}{}
	}))
	<-g.calls

	p.Close()
	close(g.release)

	select {
	case <-called:
		t.Fatal("callback ran after Close")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, p.Busy())
	assert.ErrorIs(t, p.Search(context.Background(), "again", nil), ErrClosed)
}

package picker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/geocode"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/metrics"
)

const (
	// MinRadius is the smallest radius the picker stages, in metres
	MinRadius int64 = 50

	// SliderMax is the highest radius slider position; SliderMid leaves the radius alone
	SliderMax = 8
	SliderMid = SliderMax / 2

	useGPSKey = "use_gps"
)

var (
	ErrNoDestination = errors.New("no destination point staged")
	ErrInvalidResult = errors.New("no such search result")
	ErrInvalidPoint  = errors.New("coordinates out of range")
	ErrClosed        = errors.New("picker closed")
)

// Store is the settings the picker reads and writes
type Store interface {
	Destination() (pkg.Destination, bool)
	GetBool(key string, def bool) bool
	SaveDestination(dest pkg.Destination, useGPS bool) error
}

// Restarter lets a save take effect on a running watcher
type Restarter interface {
	IsRunning() bool
	Restart() error
}

// SearchCallback receives the outcome of an asynchronous search
type SearchCallback func(results []geocode.Result, err error)

// Point is a staged coordinate
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// State is what the picker currently has staged
type State struct {
	Point   *Point           `json:"point,omitempty"`
	Radius  int64            `json:"radius_m"`
	UseGPS  bool             `json:"use_gps"`
	Busy    bool             `json:"busy"`
	Results []geocode.Result `json:"results,omitempty"`
}

// Picker stages a destination point and radius until Save
type Picker struct {
	store     Store
	geocoder  geocode.Geocoder
	restarter Restarter
	logger    *logx.Logger
	metrics   *metrics.Collector

	mu           sync.Mutex
	point        *Point
	radius       int64
	useGPS       bool
	results      []geocode.Result
	busy         bool
	closed       bool
	searchSeq    uint64
	searchCancel context.CancelFunc

	// held while a search callback runs so Close can wait it out
	callbackMu sync.Mutex
}

// New creates a picker. restarter may be nil.
func New(store Store, geocoder geocode.Geocoder, restarter Restarter, logger *logx.Logger) *Picker {
	return &Picker{
		store:     store,
		geocoder:  geocoder,
		restarter: restarter,
		logger:    logger,
		radius:    MinRadius,
		useGPS:    true,
	}
}

// SetMetrics enables geocode accounting
func (p *Picker) SetMetrics(m *metrics.Collector) {
	p.metrics = m
}

// Load stages the persisted destination, discarding anything staged before
func (p *Picker) Load() {
	dest, ok := p.store.Destination()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.point = nil
	p.radius = MinRadius
	if ok {
		p.point = &Point{Latitude: dest.Latitude, Longitude: dest.Longitude}
		p.radius = int64(dest.Radius)
	}
	p.useGPS = p.store.GetBool(useGPSKey, true)
	p.results = nil
}

// DropPin stages a new destination point
func (p *Picker) DropPin(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: %f,%f", ErrInvalidPoint, lat, lng)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.point = &Point{Latitude: lat, Longitude: lng}
	return nil
}

// SetRadius stages a radius, never below MinRadius
func (p *Picker) SetRadius(meters int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.radius = maxInt64(meters, MinRadius)
	return p.radius
}

// AdjustRadius applies one step of the radius slider. Positions away from the
// middle grow or shrink the radius exponentially; zooming out makes steps larger.
func (p *Picker) AdjustRadius(progress, zoom, maxZoom int) (int64, error) {
	if progress < 0 || progress > SliderMax {
		return 0, fmt.Errorf("slider position %d out of range 0..%d", progress, SliderMax)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if progress == SliderMid {
		return p.radius, nil
	}

	steps := progress - SliderMid
	modifier := int64(math.Pow(2, math.Abs(float64(steps))))
	if steps < 0 {
		modifier = -modifier
	}

	invertedZoom := maxZoom - zoom + 1
	modifier = int64(float64(modifier) * math.Pow(2, float64(invertedZoom-3)))

	p.radius = maxInt64(p.radius+modifier, MinRadius)
	return p.radius, nil
}

// SetUseGPS stages the high-power provider flag
func (p *Picker) SetUseGPS(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.useGPS = enabled
}

// Busy reports whether a search is in flight
func (p *Picker) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Search geocodes query off the calling goroutine and hands the outcome to cb.
// A newer search supersedes a pending one, whose callback then never runs. No
// callback runs once Close has returned. cb must not call Close.
func (p *Picker) Search(ctx context.Context, query string, cb SearchCallback) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.searchCancel != nil {
		p.searchCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.searchSeq++
	seq := p.searchSeq
	p.searchCancel = cancel
	p.busy = true
	p.mu.Unlock()

	go func() {
		defer cancel()
		results, err := p.geocoder.Search(ctx, query)
		err = p.classify(results, err)

		p.callbackMu.Lock()
		defer p.callbackMu.Unlock()

		p.mu.Lock()
		if p.closed || seq != p.searchSeq {
			p.mu.Unlock()
			return
		}
		p.busy = false
		p.searchCancel = nil
		p.results = nil
		if err == nil {
			p.results = results
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.Info("geocode_search_failed", "query", query, "error", err)
		}
		if cb != nil {
			cb(results, err)
		}
	}()
	return nil
}

func (p *Picker) classify(results []geocode.Result, err error) error {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		if !errors.Is(err, geocode.ErrGeocodingUnavailable) {
			err = fmt.Errorf("%w: %v", geocode.ErrGeocodingUnavailable, err)
		}
	case len(results) == 0:
		outcome = "empty"
		err = geocode.ErrGeocodingUnavailable
	}
	if p.metrics != nil {
		p.metrics.GeocodeResult(outcome)
	}
	return err
}

// Results returns the latest search results
func (p *Picker) Results() []geocode.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]geocode.Result(nil), p.results...)
}

// SelectResult stages the point of the i-th search result
func (p *Picker) SelectResult(i int) (geocode.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i < 0 || i >= len(p.results) {
		return geocode.Result{}, fmt.Errorf("%w: %d", ErrInvalidResult, i)
	}
	r := p.results[i]
	p.point = &Point{Latitude: r.Latitude, Longitude: r.Longitude}
	return r, nil
}

// Save persists the staged destination. Without a point or radius nothing is
// written. A running watcher is restarted so the new destination applies.
func (p *Picker) Save() (pkg.Destination, error) {
	p.mu.Lock()
	if p.point == nil || p.radius <= 0 {
		p.mu.Unlock()
		return pkg.Destination{}, ErrNoDestination
	}
	dest := pkg.Destination{
		Latitude:  p.point.Latitude,
		Longitude: p.point.Longitude,
		Radius:    float32(p.radius),
	}
	useGPS := p.useGPS
	p.mu.Unlock()

	if err := p.store.SaveDestination(dest, useGPS); err != nil {
		return pkg.Destination{}, fmt.Errorf("failed to save destination: %w", err)
	}
	p.logger.Info("destination_saved", map[string]interface{}{
		"latitude":  dest.Latitude,
		"longitude": dest.Longitude,
		"radius_m":  dest.Radius,
		"use_gps":   useGPS,
	})

	if p.restarter != nil && p.restarter.IsRunning() {
		if err := p.restarter.Restart(); err != nil {
			return dest, fmt.Errorf("destination saved but watcher restart failed: %w", err)
		}
	}
	return dest, nil
}

// Snapshot returns the staged state
func (p *Picker) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := State{
		Radius:  p.radius,
		UseGPS:  p.useGPS,
		Busy:    p.busy,
		Results: append([]geocode.Result(nil), p.results...),
	}
	if p.point != nil {
		pt := *p.point
		state.Point = &pt
	}
	return state
}

// Close abandons any pending search. Its callback will not run.
func (p *Picker) Close() {
	p.mu.Lock()
	p.closed = true
	p.busy = false
	if p.searchCancel != nil {
		p.searchCancel()
		p.searchCancel = nil
	}
	p.mu.Unlock()

	// wait for a callback that already passed the closed check
	p.callbackMu.Lock()
	p.callbackMu.Unlock()
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

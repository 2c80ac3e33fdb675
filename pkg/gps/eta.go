package gps

import (
	"math"
	"sync"
	"time"

	"github.com/sajari/regression"
)

const (
	defaultETAWindow = 10
	minETAPoints     = 3
)

type etaPoint struct {
	at       int64 // epoch ms
	distance float64
}

// ETAEstimator predicts the time to arrival by fitting distance against time
// over the most recent trusted fixes
type ETAEstimator struct {
	mu     sync.Mutex
	window int
	points []etaPoint
}

// NewETAEstimator creates an estimator over the last window points
func NewETAEstimator(window int) *ETAEstimator {
	if window < minETAPoints {
		window = defaultETAWindow
	}
	return &ETAEstimator{window: window}
}

// Add records the distance remaining at the given fix timestamp
func (e *ETAEstimator) Add(timestampMS int64, distance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.points = append(e.points, etaPoint{at: timestampMS, distance: distance})
	if len(e.points) > e.window {
		e.points = e.points[len(e.points)-e.window:]
	}
}

// Reset drops all points
func (e *ETAEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.points = nil
}

// Estimate returns the remaining time until the distance reaches radius.
// ok is false when there is too little data or the user is not closing in.
func (e *ETAEstimator) Estimate(radius float64) (time.Duration, bool) {
	e.mu.Lock()
	points := make([]etaPoint, len(e.points))
	copy(points, e.points)
	e.mu.Unlock()

	if len(points) < minETAPoints {
		return 0, false
	}

	origin := points[0].at
	r := new(regression.Regression)
	r.SetObserved("distance_m")
	r.SetVar(0, "elapsed_s")
	for _, p := range points {
		elapsed := float64(p.at-origin) / 1000
		r.Train(regression.DataPoint(p.distance, []float64{elapsed}))
	}
	if err := r.Run(); err != nil {
		return 0, false
	}

	slope := r.Coeff(1)
	if slope >= 0 || math.IsNaN(slope) {
		return 0, false
	}

	last := points[len(points)-1]
	remaining := last.distance - radius
	if remaining <= 0 {
		return 0, true
	}
	seconds := remaining / -slope
	return time.Duration(seconds * float64(time.Second)), true
}

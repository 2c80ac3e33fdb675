package gps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestETAEstimatorNeedsThreePoints(t *testing.T) {
	e := NewETAEstimator(5)
	e.Add(0, 1000)
	e.Add(10000, 900)

	_, ok := e.Estimate(100)
	assert.False(t, ok)
}

func TestETAEstimatorApproaching(t *testing.T) {
	e := NewETAEstimator(5)
	e.Add(0, 1000)
	e.Add(10000, 900)
	e.Add(20000, 800)

	eta, ok := e.Estimate(100)
	assert.True(t, ok)
	// 10 m/s with 700 m left
	assert.InDelta(t, 70, eta.Seconds(), 0.5)
}

func TestETAEstimatorMovingAway(t *testing.T) {
	e := NewETAEstimator(5)
	e.Add(0, 800)
	e.Add(10000, 900)
	e.Add(20000, 1000)

	_, ok := e.Estimate(100)
	assert.False(t, ok)
}

func TestETAEstimatorWindow(t *testing.T) {
	e := NewETAEstimator(3)
	e.Add(0, 1000)
	e.Add(10000, 2000)
	e.Add(20000, 1000)
	e.Add(30000, 900)
	e.Add(40000, 800)

	eta, ok := e.Estimate(100)
	assert.True(t, ok)
	assert.InDelta(t, 70, eta.Seconds(), 0.5)
}

func TestETAEstimatorInsideRadius(t *testing.T) {
	e := NewETAEstimator(0)
	e.Add(0, 300)
	e.Add(10000, 200)
	e.Add(20000, 90)

	eta, ok := e.Estimate(100)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), eta)
}

func TestETAEstimatorReset(t *testing.T) {
	e := NewETAEstimator(5)
	e.Add(0, 1000)
	e.Add(10000, 900)
	e.Add(20000, 800)
	e.Reset()

	_, ok := e.Estimate(100)
	assert.False(t, ok)
}

package telem

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locnotifier/pkg"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Add(i)
	}
	assert.Equal(t, []int{3, 4, 5}, rb.Items())
	assert.Equal(t, 3, rb.Size())
	assert.Equal(t, 3, rb.Capacity())
}

func TestStoreRecentAndStats(t *testing.T) {
	s := NewStore(4)
	base := time.Unix(1700000000, 0)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := int64(1); i <= 6; i++ {
		provider := "network"
		if i%2 == 0 {
			provider = "gps"
		}
		s.Add(pkg.LocationFix{Timestamp: i, Provider: provider}, i != 5)
	}

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(6), recent[0].Fix.Timestamp)
	assert.Equal(t, int64(5), recent[1].Fix.Timestamp)
	assert.False(t, recent[1].Accepted)
	assert.Len(t, s.Recent(0), 4)
	assert.Equal(t, 4, s.Len())

	since := s.Since(base.Add(4 * time.Second))
	require.Len(t, since, 2)
	assert.Equal(t, int64(5), since[0].Fix.Timestamp)

	stats := s.Stats()
	assert.Equal(t, ProviderStats{Accepted: 2}, stats["gps"])
	assert.Equal(t, ProviderStats{Accepted: 1, Rejected: 1}, stats["network"])
}

func TestStoreConcurrentAdd(t *testing.T) {
	s := NewStore(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Add(pkg.LocationFix{Provider: "network"}, true)
				_ = s.Recent(5)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, DefaultCapacity, s.Len())
}

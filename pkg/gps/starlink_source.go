package gps

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/starlink"
)

// LocationFetcher reads one fix on demand; starlink.Client implements it
type LocationFetcher interface {
	GetLocation(ctx context.Context) (pkg.LocationFix, error)
}

// receiverStats is implemented by fetchers that can explain a missing position
type receiverStats interface {
	GetGPSStats(ctx context.Context) (starlink.GPSStats, error)
}

// StarlinkSource polls the dish for its position while it has subscribers
type StarlinkSource struct {
	fetcher  LocationFetcher
	interval time.Duration
	logger   *logx.Logger

	handlers *handlerSet

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	failures int
}

// NewStarlinkSource creates a polling source
func NewStarlinkSource(fetcher LocationFetcher, interval time.Duration, logger *logx.Logger) *StarlinkSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StarlinkSource{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		handlers: newHandlerSet(),
	}
}

func (s *StarlinkSource) Subscribe(kind pkg.ProviderKind, handler FixHandler) (Subscription, error) {
	sub := s.handlers.add(kind, handler)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		s.failures = 0
		go s.pollLoop(ctx, s.done)

		s.logger.Info("starlink_source_started", "interval", s.interval.String())
	}
	return sub, nil
}

func (s *StarlinkSource) Unsubscribe(sub Subscription) error {
	if _, err := s.handlers.remove(sub); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil && s.handlers.total() == 0 {
		s.cancel()
		s.cancel = nil
		s.logger.Info("starlink_source_stopped")
	}
	return nil
}

// Wait blocks until the poll loop has exited
func (s *StarlinkSource) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *StarlinkSource) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *StarlinkSource) poll(ctx context.Context) {
	fix, err := s.fetcher.GetLocation(ctx)
	if err == nil {
		err = ValidateFix(fix)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.recordFailure(ctx, err)
		return
	}

	s.mu.Lock()
	recovered := s.failures > 0
	s.failures = 0
	s.mu.Unlock()
	if recovered {
		s.logger.Info("starlink_position_recovered")
	}

	// the dish is a single receiver, every subscriber gets every fix
	for _, kind := range s.handlers.kindsInUse() {
		s.handlers.dispatch(kind, fix)
	}
}

func (s *StarlinkSource) recordFailure(ctx context.Context, err error) {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	if errors.Is(err, starlink.ErrNoPosition) {
		fields := map[string]interface{}{"consecutive_failures": failures}
		if rx, ok := s.fetcher.(receiverStats); ok && failures == 1 {
			if stats, serr := rx.GetGPSStats(ctx); serr == nil {
				fields["gps_valid"] = stats.GPSValid
				fields["gps_sats"] = stats.GPSSats
				fields["inhibit_gps"] = stats.InhibitGPS
			}
		}
		s.logger.Debug("starlink_no_position", fields)
		return
	}
	// provider loss is tolerated, only the first failure of a streak is worth a warning
	if failures == 1 {
		s.logger.Warn("starlink_poll_failed", "error", err)
		return
	}
	s.logger.LogDebugVerbose("starlink_poll_failed", map[string]interface{}{
		"error":                err.Error(),
		"consecutive_failures": failures,
	})
}

package watcher

import (
	"context"
	"fmt"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// SettingsReader is the part of the settings store a watch session reads
type SettingsReader interface {
	Destination() (pkg.Destination, bool)
	HasDestination() bool
	UseGPS() bool
	AlertSettings() pkg.AlertSettings
}

// Service binds the watcher to persisted settings. Settings are read once per start.
type Service struct {
	watcher  *Watcher
	settings SettingsReader
	logger   *logx.Logger
}

// NewService creates a service around an existing watcher
func NewService(w *Watcher, settings SettingsReader, logger *logx.Logger) *Service {
	return &Service{watcher: w, settings: settings, logger: logger}
}

// Watcher returns the underlying watcher
func (s *Service) Watcher() *Watcher {
	return s.watcher
}

// CanStart reports whether a startable destination is configured
func (s *Service) CanStart() bool {
	if !s.settings.HasDestination() {
		return false
	}
	dest, _ := s.settings.Destination()
	return dest.Valid()
}

// Start begins a watch session with the current settings
func (s *Service) Start() error {
	dest, ok := s.settings.Destination()
	if !ok {
		return &ConfigurationError{Reason: "no destination saved"}
	}
	return s.watcher.Start(dest, s.settings.UseGPS(), s.settings.AlertSettings())
}

func (s *Service) Stop() {
	s.watcher.Stop()
}

// Restart re-reads the settings when a session is active. A stopped watcher stays stopped.
func (s *Service) Restart() error {
	if !s.watcher.IsRunning() {
		return nil
	}
	s.logger.Info("watcher_restarting")
	s.watcher.Stop()
	return s.Start()
}

func (s *Service) IsRunning() bool {
	return s.watcher.IsRunning()
}

func (s *Service) Snapshot() Snapshot {
	return s.watcher.Snapshot()
}

// Run starts a session and blocks until it ends: on arrival, on an external
// stop, or when ctx is cancelled. The watcher is stopped on every exit path.
func (s *Service) Run(ctx context.Context) (err error) {
	changes, cancel := s.watcher.Subscribe(8)
	defer cancel()

	if err := s.Start(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watcher_session_panic", "panic", fmt.Sprint(r))
			err = fmt.Errorf("watch session panicked: %v", r)
		}
		s.watcher.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if change.To == pkg.StateStopped {
				s.logger.Debug("watch_session_ended", "reason", change.Reason)
				return nil
			}
		}
	}
}

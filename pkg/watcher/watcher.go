package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/metrics"
)

const (
	AlertTitle = "Approaching destination"

	defaultAlertTimeout = 30 * time.Second
)

// StatusSink shows the ongoing watching indicator. Calls are made with the
// watcher lock held, so implementations must not call back into the watcher.
type StatusSink interface {
	Update(status pkg.Status)
	Clear()
}

// AlertSink delivers the one-shot arrival alert and the optional text message
type AlertSink interface {
	Notify(ctx context.Context, alert pkg.Alert) error
	SendSMS(ctx context.Context, number, message string) error
}

// FixRecorder persists trusted fixes and arrivals
type FixRecorder interface {
	RecordFix(ctx context.Context, fix pkg.LocationFix, distance float64) error
	RecordArrival(ctx context.Context, arrival pkg.Arrival) error
}

// FixLog keeps every received fix along with the arbiter's verdict
type FixLog interface {
	Add(fix pkg.LocationFix, accepted bool)
}

// StateChange is published to subscribers on every transition
type StateChange struct {
	From   pkg.WatcherState `json:"from"`
	To     pkg.WatcherState `json:"to"`
	Reason string           `json:"reason"`
	At     time.Time        `json:"at"`
}

// Snapshot is a point-in-time copy of the watcher state
type Snapshot struct {
	State       pkg.WatcherState `json:"state"`
	Destination pkg.Destination  `json:"destination"`
	TrustedFix  *pkg.LocationFix `json:"trusted_fix,omitempty"`
	Distance    *float64         `json:"distance_m,omitempty"`
	ETA         *time.Duration   `json:"eta,omitempty"`
}

// Watcher arms a destination, feeds incoming fixes through the arbiter and fires
// the arrival alert once the trusted fix is within the radius.
type Watcher struct {
	logger *logx.Logger
	source gps.LocationSource
	status StatusSink
	alerts AlertSink

	recorder     FixRecorder
	metrics      *metrics.Collector
	fixLog       FixLog
	alertTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    pkg.WatcherState
	session  uint64
	dest     pkg.Destination
	alert    pkg.AlertSettings
	trusted  *pkg.LocationFix
	distance *float64
	eta      *gps.ETAEstimator
	lastETA  *time.Duration
	subs     []gps.Subscription

	listenersMu  sync.Mutex
	listeners    map[uint64]chan StateChange
	nextListener uint64
}

// New creates a stopped watcher
func New(logger *logx.Logger, source gps.LocationSource, status StatusSink, alerts AlertSink) *Watcher {
	return &Watcher{
		logger:       logger,
		source:       source,
		status:       status,
		alerts:       alerts,
		alertTimeout: defaultAlertTimeout,
		now:          time.Now,
		state:        pkg.StateStopped,
		listeners:    make(map[uint64]chan StateChange),
	}
}

// SetRecorder enables fix and arrival history
func (w *Watcher) SetRecorder(r FixRecorder) {
	w.recorder = r
}

// SetMetrics enables Prometheus accounting
func (w *Watcher) SetMetrics(m *metrics.Collector) {
	w.metrics = m
}

// SetFixLog enables the recent-fix log
func (w *Watcher) SetFixLog(l FixLog) {
	w.fixLog = l
}

// SetAlertTimeout bounds each alert channel call
func (w *Watcher) SetAlertTimeout(d time.Duration) {
	if d > 0 {
		w.alertTimeout = d
	}
}

// Start arms the watcher. The low-power provider is always subscribed; the
// high-power one only when useSecondaryProvider is set.
func (w *Watcher) Start(dest pkg.Destination, useSecondaryProvider bool, alert pkg.AlertSettings) error {
	if !dest.Valid() {
		return &ConfigurationError{Reason: fmt.Sprintf("radius %.1f m", dest.Radius)}
	}

	w.mu.Lock()
	if w.state != pkg.StateStopped {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.session++
	session := w.session
	w.state = pkg.StateWatching
	w.dest = dest
	w.alert = alert
	w.trusted = nil
	w.distance = nil
	w.lastETA = nil
	w.eta = gps.NewETAEstimator(0)
	w.status.Update(pkg.Status{State: pkg.StateWatching, Timestamp: w.now()})
	w.mu.Unlock()
	w.transition(pkg.StateStopped, pkg.StateWatching, "start")

	// subscribing happens outside the lock: brokers may deliver on the goroutine we wait on
	primary, err := w.source.Subscribe(pkg.ProviderNetwork, w.OnLocationUpdate)
	if err != nil {
		w.mu.Lock()
		reverted := w.session == session && w.state == pkg.StateWatching
		if reverted {
			w.state = pkg.StateStopped
			w.status.Clear()
		}
		w.mu.Unlock()
		if reverted {
			w.transition(pkg.StateWatching, pkg.StateStopped, "subscribe failed")
		}
		return fmt.Errorf("failed to subscribe to %s provider: %w", pkg.ProviderNetwork, err)
	}
	subs := []gps.Subscription{primary}

	if useSecondaryProvider {
		secondary, err := w.source.Subscribe(pkg.ProviderGPS, w.OnLocationUpdate)
		if err != nil {
			// the watcher keeps running on whatever providers remain
			w.logger.Warn("secondary_provider_unavailable", "provider", pkg.ProviderGPS, "error", err)
		} else {
			subs = append(subs, secondary)
		}
	}

	w.mu.Lock()
	if w.session != session || w.state != pkg.StateWatching {
		// stopped or triggered while subscribing
		w.mu.Unlock()
		w.release(subs)
		return nil
	}
	w.subs = append(w.subs, subs...)
	w.mu.Unlock()

	w.logger.Info("watcher_started", map[string]interface{}{
		"latitude":  dest.Latitude,
		"longitude": dest.Longitude,
		"radius_m":  dest.Radius,
		"use_gps":   useSecondaryProvider,
	})
	return nil
}

// OnLocationUpdate handles a fix pushed by any subscribed provider. Safe for concurrent use.
func (w *Watcher) OnLocationUpdate(fix pkg.LocationFix) {
	if w.metrics != nil {
		w.metrics.FixReceived(fix.Provider)
	}

	w.mu.Lock()
	if w.state != pkg.StateWatching {
		w.mu.Unlock()
		return
	}

	accepted := gps.IsBetterFix(fix, w.trusted)
	if w.fixLog != nil {
		w.fixLog.Add(fix, accepted)
	}
	if !accepted {
		w.mu.Unlock()
		w.logger.Trace("fix_rejected", "fix", fix.String())
		return
	}

	trusted := fix
	w.trusted = &trusted
	distance := gps.DistanceTo(fix, w.dest)
	w.distance = &distance
	w.eta.Add(fix.Timestamp, distance)

	status := pkg.Status{
		State:          pkg.StateWatching,
		HasFix:         true,
		DistanceMeters: gps.RoundMeters(distance),
		Timestamp:      w.now(),
	}
	if eta, ok := w.eta.Estimate(float64(w.dest.Radius)); ok {
		status.ETA = &eta
	}
	w.lastETA = status.ETA
	w.status.Update(status)

	if w.metrics != nil {
		w.metrics.FixAccepted(fix.Provider, distance)
	}

	if distance > float64(w.dest.Radius) {
		w.mu.Unlock()
		w.recordFix(fix, distance)
		return
	}

	// at most once per session: only the goroutine that flips the state gets here
	w.state = pkg.StateTriggered
	subs := w.subs
	w.subs = nil
	dest := w.dest
	alert := w.alert
	w.mu.Unlock()

	w.transition(pkg.StateWatching, pkg.StateTriggered, "within radius")
	w.recordFix(fix, distance)
	w.arrive(subs, dest, alert, fix, distance)
}

func (w *Watcher) arrive(subs []gps.Subscription, dest pkg.Destination, settings pkg.AlertSettings, fix pkg.LocationFix, distance float64) {
	w.release(subs)

	w.logger.Info("destination_reached", map[string]interface{}{
		"distance_m": gps.RoundMeters(distance),
		"radius_m":   dest.Radius,
		"fix":        fix.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), w.alertTimeout)
	defer cancel()

	alert := pkg.Alert{
		Title:     AlertTitle,
		Body:      fmt.Sprintf("You are within %d m of your destination", gps.RoundMeters(float64(dest.Radius))),
		SoundURI:  settings.SoundURI,
		Vibrate:   settings.Vibrate,
		Insistent: settings.Insistent,
	}
	if err := w.alerts.Notify(ctx, alert); err != nil {
		w.logger.Error("arrival_alert_failed", "error", err)
		if w.metrics != nil {
			w.metrics.AlertFailed("notify")
		}
	}

	if settings.SMSReady() {
		if err := w.alerts.SendSMS(ctx, settings.SMSContact, settings.SMSMessage); err != nil {
			w.logger.Error("arrival_sms_failed", "error", err)
			if w.metrics != nil {
				w.metrics.AlertFailed("sms")
			}
		}
	}

	if w.recorder != nil {
		arrival := pkg.Arrival{Destination: dest, Fix: fix, DistanceMeters: distance, Timestamp: w.now()}
		if err := w.recorder.RecordArrival(ctx, arrival); err != nil {
			w.logger.Warn("arrival_record_failed", "error", err)
		}
	}
	if w.metrics != nil {
		w.metrics.Arrival()
	}

	w.mu.Lock()
	w.state = pkg.StateStopped
	w.status.Clear()
	w.mu.Unlock()

	w.transition(pkg.StateTriggered, pkg.StateStopped, "arrived")
}

// Stop cancels watching. Calling it while stopped is a no-op; during an arrival
// the alert completes and the watcher stops on its own.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != pkg.StateWatching {
		w.mu.Unlock()
		return
	}
	w.state = pkg.StateStopped
	subs := w.subs
	w.subs = nil
	w.status.Clear()
	w.mu.Unlock()

	w.release(subs)
	w.logger.Info("watcher_stopped")
	w.transition(pkg.StateWatching, pkg.StateStopped, "stop")
}

// IsRunning reports whether the watcher is processing fixes
func (w *Watcher) IsRunning() bool {
	return w.State() == pkg.StateWatching
}

// State returns the current state
func (w *Watcher) State() pkg.WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot returns a copy of the current session
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{State: w.state, Destination: w.dest}
	if w.trusted != nil {
		fix := *w.trusted
		snap.TrustedFix = &fix
	}
	if w.distance != nil {
		d := *w.distance
		snap.Distance = &d
	}
	if w.lastETA != nil {
		eta := *w.lastETA
		snap.ETA = &eta
	}
	return snap
}

// Subscribe returns a channel of state changes. Events are dropped for a
// subscriber whose buffer is full. cancel closes the channel.
func (w *Watcher) Subscribe(buffer int) (<-chan StateChange, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan StateChange, buffer)

	w.listenersMu.Lock()
	w.nextListener++
	id := w.nextListener
	w.listeners[id] = ch
	w.listenersMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.listenersMu.Lock()
			delete(w.listeners, id)
			w.listenersMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (w *Watcher) transition(from, to pkg.WatcherState, reason string) {
	w.logger.LogStateChange("watcher", from.String(), to.String(), reason, nil)
	if w.metrics != nil {
		w.metrics.SetState(to)
	}

	change := StateChange{From: from, To: to, Reason: reason, At: w.now()}
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	for _, ch := range w.listeners {
		select {
		case ch <- change:
		default:
		}
	}
}

func (w *Watcher) release(subs []gps.Subscription) {
	for _, sub := range subs {
		if err := w.source.Unsubscribe(sub); err != nil {
			w.logger.Warn("unsubscribe_failed", "provider", sub.Kind, "error", err)
		}
	}
}

func (w *Watcher) recordFix(fix pkg.LocationFix, distance float64) {
	if w.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.alertTimeout)
	defer cancel()
	if err := w.recorder.RecordFix(ctx, fix, distance); err != nil {
		w.logger.Warn("fix_record_failed", "error", err)
	}
}

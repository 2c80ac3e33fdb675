package watcher

import (
	"context"
	"errors"
	"sync"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
)

type fakeSource struct {
	mu       sync.Mutex
	nextID   uint64
	active   map[uint64]gps.Subscription
	handlers map[uint64]gps.FixHandler
	fail     map[pkg.ProviderKind]error
	unsubs   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		active:   make(map[uint64]gps.Subscription),
		handlers: make(map[uint64]gps.FixHandler),
		fail:     make(map[pkg.ProviderKind]error),
	}
}

func (s *fakeSource) Subscribe(kind pkg.ProviderKind, handler gps.FixHandler) (gps.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[kind]; err != nil {
		return gps.Subscription{}, err
	}
	s.nextID++
	sub := gps.Subscription{ID: s.nextID, Kind: kind}
	s.active[sub.ID] = sub
	s.handlers[sub.ID] = handler
	return sub, nil
}

func (s *fakeSource) Unsubscribe(sub gps.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[sub.ID]; !ok {
		return gps.ErrUnknownSubscription
	}
	delete(s.active, sub.ID)
	delete(s.handlers, sub.ID)
	s.unsubs++
	return nil
}

func (s *fakeSource) kinds() []pkg.ProviderKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pkg.ProviderKind
	for _, sub := range s.active {
		out = append(out, sub.Kind)
	}
	return out
}

func (s *fakeSource) unsubscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubs
}

// deliver pushes a fix to current subscribers of kind and reports how many got it
func (s *fakeSource) deliver(kind pkg.ProviderKind, fix pkg.LocationFix) int {
	s.mu.Lock()
	var targets []gps.FixHandler
	for id, sub := range s.active {
		if sub.Kind == kind {
			targets = append(targets, s.handlers[id])
		}
	}
	s.mu.Unlock()

	for _, h := range targets {
		h(fix)
	}
	return len(targets)
}

type fakeStatus struct {
	mu      sync.Mutex
	updates []pkg.Status
	clears  int
}

func (f *fakeStatus) Update(status pkg.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, status)
}

func (f *fakeStatus) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeStatus) last() pkg.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[len(f.updates)-1]
}

func (f *fakeStatus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeStatus) cleared() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type smsCall struct {
	number  string
	message string
}

type fakeAlerts struct {
	mu        sync.Mutex
	alerts    []pkg.Alert
	sms       []smsCall
	notifyErr error
}

func (f *fakeAlerts) Notify(ctx context.Context, alert pkg.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return f.notifyErr
}

func (f *fakeAlerts) SendSMS(ctx context.Context, number, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sms = append(f.sms, smsCall{number: number, message: message})
	return nil
}

func (f *fakeAlerts) notified() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeAlerts) texts() []smsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]smsCall(nil), f.sms...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	fixes    []pkg.LocationFix
	arrivals []pkg.Arrival
}

func (f *fakeRecorder) RecordFix(ctx context.Context, fix pkg.LocationFix, distance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixes = append(f.fixes, fix)
	return nil
}

func (f *fakeRecorder) RecordArrival(ctx context.Context, arrival pkg.Arrival) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrivals = append(f.arrivals, arrival)
	return errors.New("disk full")
}

type fakeFixLog struct {
	mu       sync.Mutex
	accepted int
	rejected int
}

func (f *fakeFixLog) Add(fix pkg.LocationFix, accepted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accepted {
		f.accepted++
	} else {
		f.rejected++
	}
}

type fakeSettings struct {
	dest     pkg.Destination
	saved    bool
	useGPS   bool
	settings pkg.AlertSettings
}

func (f *fakeSettings) Destination() (pkg.Destination, bool) { return f.dest, f.saved }
func (f *fakeSettings) HasDestination() bool { return f.saved }
func (f *fakeSettings) UseGPS() bool { return f.useGPS }
func (f *fakeSettings) AlertSettings() pkg.AlertSettings { return f.settings }

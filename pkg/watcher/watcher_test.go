package watcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/metrics"
)

const t0 = int64(1700000000000)

var home = pkg.Destination{Latitude: 40, Longitude: -75, Radius: 100}

type harness struct {
	source *fakeSource
	status *fakeStatus
	alerts *fakeAlerts
	w      *Watcher
}

func newHarness() *harness {
	h := &harness{
		source: newFakeSource(),
		status: &fakeStatus{},
		alerts: &fakeAlerts{},
	}
	h.w = New(logx.NewNopLogger(), h.source, h.status, h.alerts)
	return h
}

// fixNorth returns a fix the given distance north of home
func fixNorth(meters float64, ts int64, accuracy float32, provider string) pkg.LocationFix {
	lat, lon := gps.Offset(home.Latitude, home.Longitude, meters, 0)
	return pkg.LocationFix{Latitude: lat, Longitude: lon, Accuracy: accuracy, Timestamp: ts, Provider: provider}
}

func TestStartRejectsMissingRadius(t *testing.T) {
	h := newHarness()

	err := h.w.Start(pkg.Destination{Latitude: 40, Longitude: -75}, true, pkg.AlertSettings{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, pkg.StateStopped, h.w.State())
	assert.Empty(t, h.source.kinds())
	assert.Equal(t, 0, h.status.count())
}

func TestStartSubscribesProviders(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))
	assert.ElementsMatch(t, []pkg.ProviderKind{pkg.ProviderNetwork}, h.source.kinds())
	assert.True(t, h.w.IsRunning())

	awaiting := h.status.last()
	assert.Equal(t, pkg.StateWatching, awaiting.State)
	assert.False(t, awaiting.HasFix)

	h = newHarness()
	require.NoError(t, h.w.Start(home, true, pkg.AlertSettings{}))
	assert.ElementsMatch(t, []pkg.ProviderKind{pkg.ProviderNetwork, pkg.ProviderGPS}, h.source.kinds())
}

func TestStartTwice(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))
	assert.ErrorIs(t, h.w.Start(home, false, pkg.AlertSettings{}), ErrAlreadyRunning)
}

func TestStartPrimaryFailureLeavesStopped(t *testing.T) {
	h := newHarness()
	h.source.fail[pkg.ProviderNetwork] = errors.New("no modem")

	err := h.w.Start(home, true, pkg.AlertSettings{})
	assert.Error(t, err)
	assert.Equal(t, pkg.StateStopped, h.w.State())
	assert.Equal(t, 1, h.status.cleared())
}

func TestStartSecondaryFailureTolerated(t *testing.T) {
	h := newHarness()
	h.source.fail[pkg.ProviderGPS] = errors.New("no receiver")

	require.NoError(t, h.w.Start(home, true, pkg.AlertSettings{}))
	assert.True(t, h.w.IsRunning())
	assert.ElementsMatch(t, []pkg.ProviderKind{pkg.ProviderNetwork}, h.source.kinds())
}

func TestFixOutsideRadiusKeepsWatching(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(500, t0, 50, "network"))

	assert.Equal(t, pkg.StateWatching, h.w.State())
	status := h.status.last()
	assert.True(t, status.HasFix)
	assert.Equal(t, int64(500), status.DistanceMeters)
	assert.Equal(t, 0, h.alerts.notified())
}

func TestFixIgnoredWhenStopped(t *testing.T) {
	h := newHarness()
	h.w.OnLocationUpdate(fixNorth(0, t0, 5, "gps"))

	assert.Equal(t, pkg.StateStopped, h.w.State())
	assert.Equal(t, 0, h.status.count())
	assert.Equal(t, 0, h.alerts.notified())
}

func TestWorseFixIgnored(t *testing.T) {
	h := newHarness()
	fixLog := &fakeFixLog{}
	h.w.SetFixLog(fixLog)
	require.NoError(t, h.w.Start(home, true, pkg.AlertSettings{}))

	h.source.deliver(pkg.ProviderGPS, fixNorth(500, t0, 10, "gps"))
	// much less accurate, other provider, inside the window
	h.source.deliver(pkg.ProviderNetwork, fixNorth(50, t0+1000, 400, "network"))

	assert.Equal(t, pkg.StateWatching, h.w.State())
	assert.Equal(t, int64(500), h.status.last().DistanceMeters)
	assert.Equal(t, 0, h.alerts.notified())
	assert.Equal(t, 1, fixLog.accepted)
	assert.Equal(t, 1, fixLog.rejected)
}

func TestTriggerAtRadius(t *testing.T) {
	h := newHarness()

	fix := fixNorth(100, t0, 20, "gps")
	d := gps.DistanceTo(fix, home)
	radius := float32(d)
	if float64(radius) < d {
		radius = math.Nextafter32(radius, float32(math.Inf(1)))
	}
	dest := home
	dest.Radius = radius

	require.NoError(t, h.w.Start(dest, true, pkg.AlertSettings{}))
	h.source.deliver(pkg.ProviderGPS, fix)

	assert.Equal(t, pkg.StateStopped, h.w.State())
	assert.Equal(t, 1, h.alerts.notified())
	assert.Empty(t, h.source.kinds(), "all providers released")
	assert.Equal(t, 2, h.source.unsubscribed())

	// a fix still in flight after the trigger
	h.w.OnLocationUpdate(fixNorth(10, t0+1000, 5, "gps"))
	assert.Equal(t, 1, h.alerts.notified())
	assert.Equal(t, pkg.StateStopped, h.w.State())
}

func TestConcurrentFixesTriggerOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness()
		require.NoError(t, h.w.Start(home, true, pkg.AlertSettings{}))

		var wg sync.WaitGroup
		start := make(chan struct{})
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				<-start
				h.w.OnLocationUpdate(fixNorth(10, t0+int64(j), 5, "gps"))
			}(j)
		}
		close(start)
		wg.Wait()

		require.Equal(t, 1, h.alerts.notified())
		require.Equal(t, pkg.StateStopped, h.w.State())
	}
}

func TestArrivalAlertContents(t *testing.T) {
	h := newHarness()
	settings := pkg.AlertSettings{SoundURI: "siren", Vibrate: true, Insistent: true}
	require.NoError(t, h.w.Start(home, false, settings))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(20, t0, 10, "network"))

	require.Equal(t, 1, h.alerts.notified())
	alert := h.alerts.alerts[0]
	assert.Equal(t, AlertTitle, alert.Title)
	assert.Contains(t, alert.Body, "100 m")
	assert.Equal(t, "siren", alert.SoundURI)
	assert.True(t, alert.Vibrate)
	assert.True(t, alert.Insistent)
	assert.Empty(t, h.alerts.texts())
	assert.Equal(t, 1, h.status.cleared())
}

func TestArrivalSendsSMSWhenReady(t *testing.T) {
	h := newHarness()
	settings := pkg.AlertSettings{SMSEnabled: true, SMSContact: "+15551234567", SMSMessage: "Almost there"}
	require.NoError(t, h.w.Start(home, false, settings))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(20, t0, 10, "network"))

	assert.Equal(t, []smsCall{{number: "+15551234567", message: "Almost there"}}, h.alerts.texts())
}

func TestArrivalSkipsSMSWithoutMessage(t *testing.T) {
	h := newHarness()
	settings := pkg.AlertSettings{SMSEnabled: true, SMSContact: "+15551234567"}
	require.NoError(t, h.w.Start(home, false, settings))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(20, t0, 10, "network"))

	assert.Equal(t, 1, h.alerts.notified())
	assert.Empty(t, h.alerts.texts())
}

func TestAlertFailureStillStops(t *testing.T) {
	h := newHarness()
	h.alerts.notifyErr = errors.New("pushover down")
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(20, t0, 10, "network"))

	assert.Equal(t, pkg.StateStopped, h.w.State())
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}), "restartable after an arrival")
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness()
	h.w.Stop()
	assert.Equal(t, pkg.StateStopped, h.w.State())

	require.NoError(t, h.w.Start(home, true, pkg.AlertSettings{}))
	h.w.Stop()
	assert.Equal(t, pkg.StateStopped, h.w.State())
	h.w.Stop()
	assert.Equal(t, pkg.StateStopped, h.w.State())

	assert.Empty(t, h.source.kinds())
	assert.Equal(t, 2, h.source.unsubscribed())
	assert.Equal(t, 1, h.status.cleared())
	assert.False(t, h.w.IsRunning())
}

func TestStateChangesArePublished(t *testing.T) {
	h := newHarness()
	changes, cancel := h.w.Subscribe(8)
	defer cancel()

	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))
	h.source.deliver(pkg.ProviderNetwork, fixNorth(20, t0, 10, "network"))

	var got []pkg.WatcherState
	for i := 0; i < 3; i++ {
		select {
		case change := <-changes:
			got = append(got, change.To)
		case <-time.After(time.Second):
			t.Fatal("missing state change")
		}
	}
	assert.Equal(t, []pkg.WatcherState{pkg.StateWatching, pkg.StateTriggered, pkg.StateStopped}, got)

	cancel()
	_, open := <-changes
	assert.False(t, open)
	cancel()
}

func TestSnapshotAndHistory(t *testing.T) {
	h := newHarness()
	recorder := &fakeRecorder{}
	collector := metrics.NewCollector(false)
	h.w.SetRecorder(recorder)
	h.w.SetMetrics(collector)
	h.w.SetAlertTimeout(time.Second)

	snap := h.w.Snapshot()
	assert.Nil(t, snap.TrustedFix)
	assert.Nil(t, snap.Distance)

	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))
	h.source.deliver(pkg.ProviderNetwork, fixNorth(300, t0, 10, "network"))

	snap = h.w.Snapshot()
	assert.Equal(t, pkg.StateWatching, snap.State)
	require.NotNil(t, snap.TrustedFix)
	require.NotNil(t, snap.Distance)
	assert.InDelta(t, 300, *snap.Distance, 0.5)

	h.source.deliver(pkg.ProviderNetwork, fixNorth(50, t0+10000, 10, "network"))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Len(t, recorder.fixes, 2)
	require.Len(t, recorder.arrivals, 1, "arrival recorded even though the write failed")
	assert.Equal(t, home, recorder.arrivals[0].Destination)
}

func TestETAReported(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(1000, t0, 10, "network"))
	h.source.deliver(pkg.ProviderNetwork, fixNorth(900, t0+10000, 10, "network"))
	assert.Nil(t, h.status.last().ETA)

	h.source.deliver(pkg.ProviderNetwork, fixNorth(800, t0+20000, 10, "network"))
	eta := h.status.last().ETA
	require.NotNil(t, eta)
	assert.InDelta(t, 70, eta.Seconds(), 1)
	require.NotNil(t, h.w.Snapshot().ETA)
}

func TestApproachScenario(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))

	h.source.deliver(pkg.ProviderNetwork, fixNorth(500, t0, 50, "network"))
	assert.InDelta(t, 500, h.status.last().DistanceMeters, 1)
	assert.Equal(t, pkg.StateWatching, h.w.State())

	second := fixNorth(80, t0+5000, 50, "network")
	first := fixNorth(500, t0, 50, "network")
	assert.True(t, gps.IsBetterFix(second, &first))

	h.source.deliver(pkg.ProviderNetwork, second)
	assert.InDelta(t, 80, h.status.last().DistanceMeters, 1)
	assert.Equal(t, 1, h.alerts.notified())
	assert.Equal(t, pkg.StateStopped, h.w.State())
}

func TestAlertContextHasDeadline(t *testing.T) {
	h := newHarness()
	var deadline bool
	h.w.alerts = alertFunc(func(ctx context.Context) {
		_, deadline = ctx.Deadline()
	})
	require.NoError(t, h.w.Start(home, false, pkg.AlertSettings{}))
	h.source.deliver(pkg.ProviderNetwork, fixNorth(20, t0, 10, "network"))
	assert.True(t, deadline)
}

type alertFunc func(ctx context.Context)

func (f alertFunc) Notify(ctx context.Context, alert pkg.Alert) error {
	f(ctx)
	return nil
}

func (f alertFunc) SendSMS(ctx context.Context, number, message string) error {
	return nil
}

package session

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/detection"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/notify"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/trip"
	"github.com/autopeer-io/drivewatch/internal/pkg/metrics"
	"github.com/autopeer-io/drivewatch/pkg/options"
)

const (
	interval = 5 * time.Second
	waitFor  = 2 * time.Second
	tickFor  = 5 * time.Millisecond
	quietFor = 100 * time.Millisecond
)

type fakeService struct {
	mu       sync.Mutex
	starts   int
	stops    int
	checks   int
	alert    bool
	startErr error
	stopErr  error
	checkErr error
	// gate, when set, blocks CheckDrowsiness until a value is received.
	gate chan detection.Status
}

func (f *fakeService) StartSession(context.Context) (detection.SessionAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return detection.SessionAck{}, f.startErr
}

func (f *fakeService) StopSession(context.Context) (detection.SessionAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return detection.SessionAck{}, f.stopErr
}

func (f *fakeService) CheckDrowsiness(ctx context.Context) (detection.Status, error) {
	f.mu.Lock()
	f.checks++
	gate, alert, err := f.gate, f.alert, f.checkErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case st := <-gate:
			return st, nil
		case <-ctx.Done():
			return detection.Status{}, ctx.Err()
		}
	}
	return detection.Status{Alert: alert}, err
}

func (f *fakeService) setAlert(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alert = v
}

func (f *fakeService) counts() (starts, stops, checks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.checks
}

func (f *fakeService) checkCount() int {
	_, _, checks := f.counts()
	return checks
}

type notifications struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (n *notifications) Notify(_ context.Context, nt notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, nt)
}

func (n *notifications) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, nt := range n.got {
		if nt.Kind == kind {
			c++
		}
	}
	return c
}

type trips struct {
	mu  sync.Mutex
	got []trip.Summary
}

func (r *trips) Record(_ context.Context, s trip.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return nil
}

func (r *trips) all() []trip.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trip.Summary(nil), r.got...)
}

type harness struct {
	t      *testing.T
	c      *Controller
	svc    *fakeService
	clock  *testingclock.FakeClock
	notes  *notifications
	trips  *trips
	cancel context.CancelFunc
	exited chan error
	once   sync.Once
}

func newHarness(t *testing.T, svc *fakeService) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		svc:    svc,
		clock:  testingclock.NewFakeClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)),
		notes:  &notifications{},
		trips:  &trips{},
		exited: make(chan error, 1),
	}

	ids := 0
	c, err := New(Config{
		Service:      svc,
		Notifier:     h.notes,
		Recorder:     h.trips,
		Clock:        h.clock,
		VehicleID:    "vh-test",
		PollInterval: interval,
		NewID: func() string {
			ids++
			return "session-" + strconv.Itoa(ids)
		},
	})
	require.NoError(t, err)
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.exited <- c.Run(ctx) }()
	require.Eventually(t, c.Ready, waitFor, tickFor)

	t.Cleanup(h.shutdown)
	return h
}

func (h *harness) shutdown() {
	h.once.Do(func() {
		h.cancel()
		select {
		case err := <-h.exited:
			require.NoError(h.t, err)
		case <-time.After(waitFor):
			h.t.Fatal("controller did not exit")
		}
	})
}

func (h *harness) state() State {
	st, err := h.c.Snapshot(context.Background())
	require.NoError(h.t, err)
	return st
}

// tick advances the fake clock by one poll period once the timer is armed.
func (h *harness) tick() {
	require.Eventually(h.t, h.clock.HasWaiters, waitFor, tickFor)
	h.clock.Step(interval)
}

// pollAndWait ticks and waits until the n-th poll result has been applied.
func (h *harness) pollAndWait(n int) {
	h.tick()
	require.Eventually(h.t, func() bool { return h.state().Polls == n }, waitFor, tickFor)
}

func TestStartIsOptimistic(t *testing.T) {
	h := newHarness(t, &fakeService{})

	st := h.state()
	require.Equal(t, PhaseIdle, st.Phase)
	require.False(t, st.Driving)
	require.False(t, st.AlertActive)

	require.NoError(t, h.c.StartDriving(context.Background()))

	st = h.state()
	require.Equal(t, PhaseActive, st.Phase)
	require.True(t, st.Driving)
	require.Equal(t, "session-1", st.SessionID)

	require.Eventually(t, func() bool { return h.notes.count(notify.KindSessionStarted) == 1 }, waitFor, tickFor)
	starts, _, checks := h.svc.counts()
	require.Equal(t, 1, starts)
	require.Zero(t, checks)
}

func TestStartFailureKeepsDriving(t *testing.T) {
	h := newHarness(t, &fakeService{startErr: detection.ErrUnavailable})

	require.NoError(t, h.c.StartDriving(context.Background()))
	require.Eventually(t, func() bool { s, _, _ := h.svc.counts(); return s == 1 }, waitFor, tickFor)

	require.Never(t, func() bool { return h.notes.count(notify.KindSessionStarted) > 0 }, quietFor, tickFor)
	require.True(t, h.state().Driving)

	// Polling still runs for an optimistically started session.
	h.pollAndWait(1)
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, &fakeService{})

	require.ErrorIs(t, h.c.StopDriving(context.Background()), ErrNotDriving)
	require.ErrorIs(t, h.c.PollOnce(context.Background()), ErrNotDriving)

	require.NoError(t, h.c.StartDriving(context.Background()))
	require.ErrorIs(t, h.c.StartDriving(context.Background()), ErrAlreadyDriving)

	require.NoError(t, h.c.StopDriving(context.Background()))
	require.ErrorIs(t, h.c.StopDriving(context.Background()), ErrNotDriving)
}

func TestPollFalseKeepsAlertClear(t *testing.T) {
	h := newHarness(t, &fakeService{alert: false})

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)

	require.False(t, h.state().AlertActive)
	require.Zero(t, h.notes.count(notify.KindDrowsiness))
}

func TestPollTrueRaisesOneAlert(t *testing.T) {
	h := newHarness(t, &fakeService{alert: true})

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)

	st := h.state()
	require.True(t, st.AlertActive)
	require.Equal(t, 1, st.Alerts)
	require.Equal(t, 1, h.notes.count(notify.KindDrowsiness))
}

func TestRepeatedAlertNotifiesOnce(t *testing.T) {
	h := newHarness(t, &fakeService{alert: true})

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)
	h.pollAndWait(2)
	h.pollAndWait(3)

	require.True(t, h.state().AlertActive)
	require.Equal(t, 1, h.notes.count(notify.KindDrowsiness))
}

func TestAlertClearsWithoutNotification(t *testing.T) {
	svc := &fakeService{alert: true}
	h := newHarness(t, svc)

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)
	require.True(t, h.state().AlertActive)

	svc.setAlert(false)
	h.pollAndWait(2)
	require.False(t, h.state().AlertActive)
	require.Equal(t, 1, h.notes.count(notify.KindDrowsiness))

	// A new rising edge notifies again.
	svc.setAlert(true)
	h.pollAndWait(3)
	require.True(t, h.state().AlertActive)
	require.Equal(t, 2, h.notes.count(notify.KindDrowsiness))
	require.Equal(t, 2, h.state().Alerts)
}

func TestPollFailureLeavesStateUnchanged(t *testing.T) {
	svc := &fakeService{alert: true}
	h := newHarness(t, svc)

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)

	svc.mu.Lock()
	svc.checkErr = detection.ErrBadResponse
	svc.mu.Unlock()
	h.pollAndWait(2)

	st := h.state()
	require.True(t, st.AlertActive)
	require.True(t, st.Driving)
	require.Equal(t, 1, st.PollFailures)
}

func TestStopClearsAlertAndStopsPolling(t *testing.T) {
	h := newHarness(t, &fakeService{alert: true})

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)
	require.True(t, h.state().AlertActive)

	require.NoError(t, h.c.StopDriving(context.Background()))

	st := h.state()
	require.False(t, st.AlertActive)
	require.False(t, st.Driving)
	require.Empty(t, st.SessionID)
	require.False(t, h.clock.HasWaiters(), "poll timer must be released on stop")

	checks := h.svc.checkCount()
	h.clock.Step(interval)
	h.clock.Step(interval)
	require.Never(t, func() bool { return h.svc.checkCount() != checks }, quietFor, tickFor)

	require.Eventually(t, func() bool { return h.notes.count(notify.KindSessionEnded) == 1 }, waitFor, tickFor)
	require.Eventually(t, func() bool { return len(h.trips.all()) == 1 }, waitFor, tickFor)

	sum := h.trips.all()[0]
	require.Equal(t, "vh-test", sum.VehicleID)
	require.Equal(t, "session-1", sum.SessionID)
	require.Equal(t, 1, sum.Polls)
	require.Equal(t, 1, sum.Alerts)
	require.Equal(t, interval, sum.Duration)
}

func TestStopFailureStillIdle(t *testing.T) {
	h := newHarness(t, &fakeService{stopErr: errors.New("connection refused")})

	require.NoError(t, h.c.StartDriving(context.Background()))
	require.NoError(t, h.c.StopDriving(context.Background()))
	require.Eventually(t, func() bool { _, s, _ := h.svc.counts(); return s == 1 }, waitFor, tickFor)

	require.False(t, h.state().Driving)
	require.Never(t, func() bool { return h.notes.count(notify.KindSessionEnded) > 0 }, quietFor, tickFor)
}

func TestErrorStatusStillNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	opts := options.NewDetectionOptions()
	opts.ServerURL = srv.URL
	client, err := detection.NewClient(opts)
	require.NoError(t, err)

	notes := &notifications{}
	c, err := New(Config{
		Service:      client,
		Notifier:     notes,
		Recorder:     &trips{},
		Clock:        testingclock.NewFakeClock(time.Now()),
		VehicleID:    "vh-test",
		PollInterval: interval,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan error, 1)
	go func() { exited <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-exited
	})
	require.Eventually(t, c.Ready, waitFor, tickFor)

	require.NoError(t, c.StartDriving(context.Background()))
	require.Eventually(t, func() bool { return notes.count(notify.KindSessionStarted) == 1 }, waitFor, tickFor)

	require.NoError(t, c.StopDriving(context.Background()))
	require.Eventually(t, func() bool { return notes.count(notify.KindSessionEnded) == 1 }, waitFor, tickFor)
}

func TestNoPollWhileIdle(t *testing.T) {
	h := newHarness(t, &fakeService{})

	require.False(t, h.clock.HasWaiters())
	h.clock.Step(interval)
	h.clock.Step(10 * interval)
	require.Never(t, func() bool { return h.svc.checkCount() > 0 }, quietFor, tickFor)
}

func TestLateResultAfterStopIsIgnored(t *testing.T) {
	svc := &fakeService{gate: make(chan detection.Status)}
	h := newHarness(t, svc)

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.tick()
	require.Eventually(t, func() bool { return svc.checkCount() == 1 }, waitFor, tickFor)

	require.NoError(t, h.c.StopDriving(context.Background()))
	svc.gate <- detection.Status{Alert: true}

	require.Never(t, func() bool { return h.state().AlertActive }, quietFor, tickFor)
	require.Zero(t, h.notes.count(notify.KindDrowsiness))
}

func TestLateResultFromPreviousSessionIsIgnored(t *testing.T) {
	svc := &fakeService{gate: make(chan detection.Status)}
	h := newHarness(t, svc)

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.tick()
	require.Eventually(t, func() bool { return svc.checkCount() == 1 }, waitFor, tickFor)

	require.NoError(t, h.c.StopDriving(context.Background()))
	require.NoError(t, h.c.StartDriving(context.Background()))
	svc.gate <- detection.Status{Alert: true}

	require.Never(t, func() bool { return h.state().AlertActive }, quietFor, tickFor)
	require.Zero(t, h.state().Polls)
}

func TestTickSkippedWhilePollInFlight(t *testing.T) {
	svc := &fakeService{gate: make(chan detection.Status)}
	h := newHarness(t, svc)

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.tick()
	require.Eventually(t, func() bool { return svc.checkCount() == 1 }, waitFor, tickFor)

	h.tick()
	h.tick()
	require.Never(t, func() bool { return svc.checkCount() > 1 }, quietFor, tickFor)

	svc.gate <- detection.Status{Alert: true}
	require.Eventually(t, func() bool { return h.state().AlertActive }, waitFor, tickFor)

	h.tick()
	require.Eventually(t, func() bool { return svc.checkCount() == 2 }, waitFor, tickFor)
	svc.gate <- detection.Status{Alert: true}
	require.Eventually(t, func() bool { return h.state().Polls == 2 }, waitFor, tickFor)
	require.Equal(t, 1, h.notes.count(notify.KindDrowsiness))
}

func TestPollOnce(t *testing.T) {
	h := newHarness(t, &fakeService{alert: true})

	require.NoError(t, h.c.StartDriving(context.Background()))
	require.NoError(t, h.c.PollOnce(context.Background()))
	require.Eventually(t, func() bool { return h.state().AlertActive }, waitFor, tickFor)
}

func TestAlertAlwaysClearAfterStop(t *testing.T) {
	svc := &fakeService{}
	h := newHarness(t, svc)
	rng := rand.New(rand.NewSource(42))

	polls := 0
	for i := 0; i < 40; i++ {
		st := h.state()
		switch {
		case !st.Driving:
			require.NoError(t, h.c.StartDriving(context.Background()))
			polls = 0
		case rng.Intn(3) == 0:
			require.NoError(t, h.c.StopDriving(context.Background()))
			after := h.state()
			require.False(t, after.AlertActive)
			require.False(t, h.clock.HasWaiters())
		default:
			svc.setAlert(rng.Intn(2) == 0)
			polls++
			h.pollAndWait(polls)
		}
	}
}

func TestShutdownEndsActiveSession(t *testing.T) {
	svc := &fakeService{alert: true}
	h := newHarness(t, svc)
	stopsCounted := testutil.ToFloat64(metrics.SessionTransitionsTotal.WithLabelValues(EventStop))

	require.NoError(t, h.c.StartDriving(context.Background()))
	h.pollAndWait(1)

	h.shutdown()
	require.Equal(t, stopsCounted+1, testutil.ToFloat64(metrics.SessionTransitionsTotal.WithLabelValues(EventStop)))

	_, stops, _ := svc.counts()
	require.Equal(t, 1, stops)
	require.Len(t, h.trips.all(), 1)
	require.False(t, h.clock.HasWaiters())
	require.False(t, h.c.Ready())

	_, err := h.c.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, h.c.StartDriving(context.Background()), ErrClosed)
}

func TestShutdownWhileIdleSendsNothing(t *testing.T) {
	svc := &fakeService{}
	h := newHarness(t, svc)

	h.shutdown()

	starts, stops, _ := svc.counts()
	require.Zero(t, starts)
	require.Zero(t, stops)
	require.Empty(t, h.trips.all())
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, &fakeService{})
	require.ErrorIs(t, h.c.Run(context.Background()), ErrAlreadyRunning)
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestAlertMetrics(t *testing.T) {
	h := newHarness(t, &fakeService{alert: true})
	raised := testutil.ToFloat64(metrics.AlertsRaisedTotal)

	require.NoError(t, h.c.StartDriving(context.Background()))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionActive))

	h.pollAndWait(1)
	h.pollAndWait(2)
	require.Equal(t, raised+1, testutil.ToFloat64(metrics.AlertsRaisedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.AlertActive))

	require.NoError(t, h.c.StopDriving(context.Background()))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.SessionActive))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.AlertActive))
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/detection"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/notify"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/trip"
	"github.com/autopeer-io/drivewatch/internal/pkg/metrics"
	"github.com/autopeer-io/drivewatch/pkg/log"
)

var (
	ErrAlreadyDriving = errors.New("a driving session is already active")
	ErrNotDriving     = errors.New("no driving session is active")
	ErrClosed         = errors.New("session controller is closed")
	ErrAlreadyRunning = errors.New("session controller is already running")
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Config holds the collaborators of a Controller. Service is required.
type Config struct {
	Service  detection.Service
	Notifier notify.Notifier
	Recorder trip.Recorder
	Clock    clock.Clock

	VehicleID       string
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// NewID mints session IDs. Defaults to random UUIDs.
	NewID func() string
}

// State is a snapshot of the controller.
type State struct {
	Phase        string    `json:"phase"`
	Driving      bool      `json:"driving"`
	AlertActive  bool      `json:"alertActive"`
	SessionID    string    `json:"sessionId,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	Polls        int       `json:"polls"`
	PollFailures int       `json:"pollFailures"`
	Alerts       int       `json:"alerts"`
}

// Controller owns the driving session state and the drowsiness poll.
//
// Every field from ctx down is touched only by the goroutine running
// Run. Public methods post closures to that goroutine and wait for them;
// detection requests run on their own goroutines and post their results back.
type Controller struct {
	svc      detection.Service
	notifier notify.Notifier
	recorder trip.Recorder
	clock    clock.Clock
	newID    func() string

	vehicleID       string
	interval        time.Duration
	requestTimeout  time.Duration
	shutdownTimeout time.Duration

	q       chan func()
	done    chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup

	// loop
	ctx          context.Context
	fsm          *fsm.FSM
	driving      bool
	alertActive  bool
	epoch        uint64
	sessionID    string
	startedAt    time.Time
	polls        int
	pollFailures int
	alerts       int
	pollInFlight bool
	pollTimer    clock.Timer
}

// New creates a controller in the idle state. Call Run to start its loop.
func New(cfg Config) (*Controller, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("detection service is required")
	}

	c := &Controller{
		svc:             cfg.Service,
		notifier:        cfg.Notifier,
		recorder:        cfg.Recorder,
		clock:           cfg.Clock,
		newID:           cfg.NewID,
		vehicleID:       cfg.VehicleID,
		interval:        cfg.PollInterval,
		requestTimeout:  cfg.RequestTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		q:               make(chan func()),
		done:            make(chan struct{}),
	}
	if c.notifier == nil {
		c.notifier = notify.Multi{}
	}
	if c.recorder == nil {
		c.recorder = trip.Nop{}
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.shutdownTimeout <= 0 {
		c.shutdownTimeout = DefaultShutdownTimeout
	}
	c.fsm = newStateMachine(c)

	metrics.BoolGauge(metrics.SessionActive, false)
	metrics.BoolGauge(metrics.AlertActive, false)
	return c, nil
}

// Run processes user actions, poll ticks and request completions until ctx
// is done. An active session is ended on the way out.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx

	log.Info("Session controller started", "vehicleID", c.vehicleID, "pollInterval", c.interval)

	for {
		var tick <-chan time.Time
		if c.pollTimer != nil {
			tick = c.pollTimer.C()
		}

		select {
		case fn := <-c.q:
			fn()
		case <-tick:
			c.armPollTimer()
			c.poll()
		case <-ctx.Done():
			release := c.teardown(ctx)
			close(c.done)
			c.wg.Wait()
			release()
			log.Info("Session controller stopped")
			return nil
		}
	}
}

// Ready reports whether the loop is running and accepting calls.
func (c *Controller) Ready() bool {
	if !c.running.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// StartDriving moves Idle to Active. The session counts as started even when
// the start request later fails.
func (c *Controller) StartDriving(ctx context.Context) error {
	var err error
	if derr := c.do(ctx, func() { err = c.fsm.Event(c.ctx, EventStart) }); derr != nil {
		return derr
	}
	if err = translate(err); err == nil {
		metrics.SessionTransitionsTotal.WithLabelValues(EventStart).Inc()
	}
	return err
}

// StopDriving moves Active to Idle and clears the alert.
func (c *Controller) StopDriving(ctx context.Context) error {
	var err error
	if derr := c.do(ctx, func() { err = c.fsm.Event(c.ctx, EventStop) }); derr != nil {
		return derr
	}
	if err = translate(err); err == nil {
		metrics.SessionTransitionsTotal.WithLabelValues(EventStop).Inc()
	}
	return err
}

// PollOnce issues one drowsiness check right away. It returns ErrNotDriving
// while idle and issues nothing.
func (c *Controller) PollOnce(ctx context.Context) error {
	var err error
	if derr := c.do(ctx, func() {
		if !c.driving {
			err = ErrNotDriving
			return
		}
		c.poll()
	}); derr != nil {
		return derr
	}
	return err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := c.do(ctx, func() {
		st = State{
			Phase:        c.fsm.Current(),
			Driving:      c.driving,
			AlertActive:  c.alertActive,
			SessionID:    c.sessionID,
			Polls:        c.polls,
			PollFailures: c.pollFailures,
			Alerts:       c.alerts,
		}
		if c.driving {
			st.StartedAt = c.startedAt
		}
	})
	return st, err
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.q <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The loop runs fn synchronously once it has taken it.
	<-finished
	return nil
}

// post schedules fn on the loop without waiting. It is dropped once the loop
// has exited.
func (c *Controller) post(fn func()) {
	select {
	case c.q <- fn:
	case <-c.done:
	}
}

// spawn runs a request off the loop with its own timeout.
func (c *Controller) spawn(fn func(ctx context.Context)) {
	parent := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(parent, c.requestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Controller) sendStart(sessionID string) {
	c.spawn(func(ctx context.Context) {
		if _, err := c.svc.StartSession(ctx); err != nil {
			log.Error(err, "Error starting session", "sessionID", sessionID)
			return
		}
		c.post(func() {
			log.Info("Driving session started", "sessionID", sessionID)
			c.notify(notify.KindSessionStarted, sessionID)
		})
	})
}

func (c *Controller) sendStop(sessionID string) {
	c.spawn(func(ctx context.Context) {
		if _, err := c.svc.StopSession(ctx); err != nil {
			log.Error(err, "Error stopping session", "sessionID", sessionID)
			return
		}
		c.post(func() {
			log.Info("Driving session ended", "sessionID", sessionID)
			c.notify(notify.KindSessionEnded, sessionID)
		})
	})
}

// poll issues one check unless idle or a check is still outstanding.
func (c *Controller) poll() {
	if !c.driving {
		return
	}
	if c.pollInFlight {
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		log.Debug("Previous drowsiness check still in flight, skipping tick", "sessionID", c.sessionID)
		return
	}

	c.pollInFlight = true
	epoch := c.epoch
	c.spawn(func(ctx context.Context) {
		st, err := c.svc.CheckDrowsiness(ctx)
		c.post(func() { c.applyPoll(epoch, st, err) })
	})
}

// applyPoll folds a check result into the alert flag. Results from an
// earlier session, or arriving while idle, are discarded.
func (c *Controller) applyPoll(epoch uint64, st detection.Status, err error) {
	if epoch != c.epoch || !c.driving {
		metrics.PollsTotal.WithLabelValues("stale").Inc()
		log.Debug("Discarding drowsiness result from an ended session", "alert", st.Alert, "error", err)
		return
	}
	c.pollInFlight = false
	c.polls++

	if err != nil {
		c.pollFailures++
		metrics.PollsTotal.WithLabelValues("failed").Inc()
		log.Error(err, "Error fetching drowsiness status", "sessionID", c.sessionID)
		return
	}
	metrics.PollsTotal.WithLabelValues("ok").Inc()

	if !st.Alert {
		c.setAlert(false)
		return
	}
	if c.alertActive {
		return
	}

	c.setAlert(true)
	c.alerts++
	metrics.AlertsRaisedTotal.Inc()
	log.Warn("Drowsiness detected", "sessionID", c.sessionID)
	c.notify(notify.KindDrowsiness, c.sessionID)
}

func (c *Controller) setDriving(v bool) {
	c.driving = v
	metrics.BoolGauge(metrics.SessionActive, v)
}

func (c *Controller) setAlert(v bool) {
	c.alertActive = v
	metrics.BoolGauge(metrics.AlertActive, v)
}

func (c *Controller) notify(kind notify.Kind, sessionID string) {
	metrics.NotificationsTotal.WithLabelValues(string(kind)).Inc()
	c.notifier.Notify(c.ctx, notify.New(kind, sessionID, c.clock.Now()))
}

func (c *Controller) armPollTimer() {
	if c.pollTimer != nil {
		c.pollTimer.Stop()
	}
	c.pollTimer = c.clock.NewTimer(c.interval)
}

func (c *Controller) releasePollTimer() {
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

func (c *Controller) summary() trip.Summary {
	now := c.clock.Now()
	return trip.Summary{
		VehicleID:    c.vehicleID,
		SessionID:    c.sessionID,
		StartedAt:    c.startedAt,
		EndedAt:      now,
		Duration:     now.Sub(c.startedAt),
		Polls:        c.polls,
		PollFailures: c.pollFailures,
		Alerts:       c.alerts,
	}
}

func (c *Controller) archive(s trip.Summary) {
	c.spawn(func(ctx context.Context) {
		if err := c.recorder.Record(ctx, s); err != nil {
			log.Error(err, "Failed to archive trip summary", "sessionID", s.SessionID)
		}
	})
}

// teardown releases the timer and ends an active session. ctx is already
// done, so the stop request runs under a fresh bounded context that the
// returned func releases.
func (c *Controller) teardown(ctx context.Context) func() {
	c.releasePollTimer()
	if !c.driving {
		return func() {}
	}

	log.Info("Ending active driving session on shutdown", "sessionID", c.sessionID)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
	c.ctx = shutdownCtx
	if err := c.fsm.Event(shutdownCtx, EventStop); err != nil {
		log.Error(err, "Failed to end session on shutdown")
	} else {
		metrics.SessionTransitionsTotal.WithLabelValues(EventStop).Inc()
	}
	return cancel
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		switch invalid.Event {
		case EventStart:
			return ErrAlreadyDriving
		case EventStop:
			return ErrNotDriving
		}
	}
	return err
}

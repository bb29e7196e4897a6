package session

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/drivewatch/internal/pkg/util/fsm"
)

// Phases of a driving session.
const (
	PhaseIdle   = "idle"
	PhaseActive = "active"
)

const (
	// EventStart (Idle) begins a driving session.
	EventStart = "start"
	// EventStop (Active) ends it.
	EventStop = "stop"
)

// newStateMachine wires the two-state session machine to the controller's
// side effects. All callbacks run on the controller's loop goroutine.
func newStateMachine(c *Controller) *fsm.FSM {
	events := fsm.Events{
		{Name: EventStart, Src: []string{PhaseIdle}, Dst: PhaseActive},
		{Name: EventStop, Src: []string{PhaseActive}, Dst: PhaseIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_" + PhaseActive: fsmutil.WrapEvent(c.enterActive),
		"leave_" + PhaseActive: fsmutil.WrapEvent(c.leaveActive),
		"enter_" + PhaseIdle:   fsmutil.WrapEvent(c.enterIdle),
	}

	return fsm.NewFSM(PhaseIdle, events, callbacks)
}

// enterActive is the start side effect: optimistic flag, fresh session,
// timer acquisition, then the start request.
func (c *Controller) enterActive(ctx context.Context, e *fsm.Event) error {
	c.setDriving(true)
	c.epoch++
	c.sessionID = c.newID()
	c.startedAt = c.clock.Now()
	c.polls, c.pollFailures, c.alerts = 0, 0, 0
	c.pollInFlight = false

	c.armPollTimer()
	c.sendStart(c.sessionID)
	return nil
}

// leaveActive releases the poll timer before the state changes, so no tick
// can be observed in the idle state.
func (c *Controller) leaveActive(ctx context.Context, e *fsm.Event) error {
	c.releasePollTimer()
	return nil
}

// enterIdle is the stop side effect: both flags cleared, trip handed off,
// then the stop request.
func (c *Controller) enterIdle(ctx context.Context, e *fsm.Event) error {
	c.setDriving(false)
	c.setAlert(false)

	c.archive(c.summary())
	c.sendStop(c.sessionID)

	c.sessionID = ""
	return nil
}

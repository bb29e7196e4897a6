package drivewatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/console"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/detection"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/server"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/session"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/trip"
	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/drivewatch/pkg/mqtt/topic"
)

const (
	probeTimeout      = 3 * time.Second
	disconnectTimeout = 3 * time.Second
)

type Agent struct {
	vehicleID string

	detection  *detection.Client
	controller *session.Controller

	// optional
	console *console.Console
	server  *server.Server
	mqtt    mqtt.Client
	topics  *mqtttopic.Builder
	// connectTimeout bounds the wait for the first broker connection.
	connectTimeout time.Duration
	archive *trip.S3Archive
}

// Controller exposes the session controller, mainly for embedding and tests.
func (a *Agent) Controller() *session.Controller {
	return a.controller
}

// Run starts the uplinks and runs the controller, console and admin server
// until ctx is done or the user quits from the console.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting drivewatch-agent", "vehicleID", a.vehicleID, "detection", a.detection.BaseURL())

	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			return err
		}
		defer a.goOffline()
		a.awaitBroker(ctx)
	}

	if a.archive != nil {
		if err := a.archive.EnsureBucket(ctx); err != nil {
			// Recording failures are logged per trip, the agent keeps running.
			log.Error(err, "Trip archive unavailable")
		}
	}

	go a.probeSession(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.controller.Run(gctx)
	})
	if a.console != nil {
		g.Go(func() error {
			return a.console.Run(gctx)
		})
	}
	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, console.ErrQuit) {
		log.Info("Quit requested from console")
		err = nil
	}
	log.Info("Agent shutting down...")
	return err
}

// probeSession logs the detection service's view of the session at startup.
func (a *Agent) probeSession(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ack, err := a.detection.SessionStatus(ctx)
	if err != nil {
		log.Warn("Detection service not reachable at startup", "error", err)
		return
	}
	if ack.Active != nil && *ack.Active {
		log.Warn("Detection service reports a session already active")
		return
	}
	log.Info("Detection service reachable", "sessionActive", ack.Active != nil && *ack.Active)
}

// awaitBroker waits a bounded time for the first connection so the online
// status goes out before the first alert. autopaho keeps retrying afterwards.
func (a *Agent) awaitBroker(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()

	if err := a.mqtt.AwaitConnection(ctx); err != nil {
		log.Warn("MQTT broker not reachable yet, alerts are published once connected", "timeout", a.connectTimeout, "error", err)
		return
	}
	log.Info("Connected to MQTT broker")
}

// goOffline replaces the retained online status before disconnecting.
func (a *Agent) goOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if a.mqtt.IsConnected() {
		payload, _ := json.Marshal(OnlineStatus{VehicleID: a.vehicleID, Online: false, Reason: "Shutdown"})
		if err := a.mqtt.Publish(ctx, a.topics.Online(a.vehicleID), 1, true, payload); err != nil {
			log.Error(err, "Failed to publish offline status")
		}
	}
	a.mqtt.Disconnect(ctx)
}

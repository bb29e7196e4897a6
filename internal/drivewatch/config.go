package drivewatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/console"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/detection"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/notify"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/server"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/session"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/trip"
	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/drivewatch/pkg/mqtt/topic"
	"github.com/autopeer-io/drivewatch/pkg/options"
)

// Config is the validated runtime configuration of the agent.
type Config struct {
	VehicleID string
	Console   bool

	DetectionOptions *options.DetectionOptions
	HttpOptions      *options.HttpOptions
	MqttOptions      *options.MqttOptions
	S3Options        *options.S3Options

	// Stdin and Stdout default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
}

// OnlineStatus is the retained presence message on {root}/online/{vehicleID}.
type OnlineStatus struct {
	VehicleID string `json:"vehicleId"`
	Online    bool   `json:"online"`
	Reason    string `json:"reason,omitempty"`
}

func (cfg *Config) NewAgent() (*Agent, error) {
	vid := DiscoverVehicleID(cfg.VehicleID)
	if vid == "" {
		return nil, fmt.Errorf("unable to determine the vehicle ID, set --agent.vehicle-id or %s", EnvVehicleID)
	}

	stdin, stdout := cfg.Stdin, cfg.Stdout
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	client, err := detection.NewClient(cfg.DetectionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to init detection client: %w", err)
	}

	a := &Agent{
		vehicleID: vid,
		detection: client,
	}

	var notifiers notify.Multi
	if cfg.Console {
		// The console needs the controller, so it is bound after both exist.
		redraw := notify.Func(func(ctx context.Context, n notify.Notification) {
			if a.console != nil {
				a.console.Notify(ctx, n)
			}
		})
		notifiers = append(notifiers, notify.NewConsole(stdout), redraw)
	}

	if cfg.MqttOptions.Enabled {
		mqttClient, topics, err := cfg.initMqttClientAndTopicBuilder(vid)
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		a.mqtt, a.topics = mqttClient, topics
		a.connectTimeout = cfg.MqttOptions.ConnectTimeout
		notifiers = append(notifiers, notify.NewMQTT(mqttClient, topics, vid, cfg.MqttOptions.PublishTimeout))
	}

	var recorder trip.Recorder = trip.Nop{}
	if cfg.S3Options.Enabled {
		archive, err := trip.NewS3Archive(cfg.S3Options)
		if err != nil {
			return nil, fmt.Errorf("failed to init trip archive: %w", err)
		}
		a.archive = archive
		recorder = archive
	}

	a.controller, err = session.New(session.Config{
		Service:        client,
		Notifier:       notify.Stamp(vid, notifiers),
		Recorder:       recorder,
		VehicleID:      vid,
		PollInterval:   cfg.DetectionOptions.PollInterval,
		RequestTimeout: cfg.DetectionOptions.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Console {
		a.console = console.New(a.controller, client, stdin, stdout)
	}
	if cfg.HttpOptions.Enabled() {
		a.server = server.NewServer(cfg.HttpOptions, a.controller)
	}

	return a, nil
}

func (cfg *Config) initMqttClientAndTopicBuilder(vid string) (mqtt.Client, *mqtttopic.Builder, error) {
	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	onlineTopic := topicBuilder.Online(vid)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("drivewatch-agent-%s", vid)
	}

	offlinePayload, _ := json.Marshal(OnlineStatus{
		VehicleID: vid,
		Online:    false,
		Reason:    "UnexpectedDisconnect",
	})

	mqttConfig.WillTopic = onlineTopic
	mqttConfig.WillPayload = offlinePayload
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	var client mqtt.Client
	announce := func(ctx context.Context) {
		payload, _ := json.Marshal(OnlineStatus{VehicleID: vid, Online: true})
		if err := client.Publish(ctx, onlineTopic, 1, true, payload); err != nil {
			log.Error(err, "Failed to publish online status", "topic", onlineTopic)
		}
	}

	client, err := mqtt.NewClient(mqttConfig, mqtt.WithOnConnectionUp(announce))
	if err != nil {
		return nil, nil, err
	}

	return client, topicBuilder, nil
}

package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/drivewatch/pkg/mqtt/topic"
)

// MQTT publishes notifications to {root}/alerts/{vehicleID}.
type MQTT struct {
	client    mqtt.Client
	topic     string
	timeout   time.Duration
	vehicleID string
}

// NewMQTT builds a publisher for one vehicle.
func NewMQTT(client mqtt.Client, topics *mqtttopic.Builder, vehicleID string, timeout time.Duration) *MQTT {
	return &MQTT{
		client:    client,
		topic:     topics.Alerts(vehicleID),
		timeout:   timeout,
		vehicleID: vehicleID,
	}
}

// Notify publishes asynchronously so a slow broker never stalls the caller.
func (m *MQTT) Notify(_ context.Context, n Notification) {
	if n.VehicleID == "" {
		n.VehicleID = m.vehicleID
	}
	payload, err := json.Marshal(n)
	if err != nil {
		log.Error(err, "Failed to encode notification", "kind", n.Kind)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		if err := m.client.Publish(ctx, m.topic, 1, false, payload); err != nil {
			log.Error(err, "Failed to publish notification", "topic", m.topic, "kind", n.Kind)
			return
		}
		log.Debug("Published notification", "topic", m.topic, "kind", n.Kind)
	}()
}

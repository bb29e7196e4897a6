package topic

import (
	"fmt"
	"strings"
)

// Builder constructs topic strings under a common root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g., "drivewatch/v1").
	root string
}

// NewBuilder creates a new Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/")}
}

// Alerts returns the topic a vehicle publishes its notifications to.
func (b *Builder) Alerts(vehicleID string) string {
	return b.Build(SuffixAlerts, vehicleID)
}

// Online returns the retained online status topic of a vehicle.
func (b *Builder) Online(vehicleID string) string {
	return b.Build(SuffixOnline, vehicleID)
}

// Build joins root, segment and identifier: {root}/{segment}/{id}
func (b *Builder) Build(segment, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, segment, id)
}

package topic

// Topic segments published by the agent (Edge -> Cloud).
// Changing these values breaks existing fleet subscribers.
const (
	// SuffixAlerts carries driver notifications.
	// Structure: {root}/alerts/{vehicleID}
	SuffixAlerts = "alerts"

	// SuffixOnline carries the retained online/offline status and the LWT.
	// Structure: {root}/online/{vehicleID}
	SuffixOnline = "online"
)


package drivewatch

import (
	"os"
	"strings"

	"github.com/autopeer-io/drivewatch/pkg/log"
)

// EnvVehicleID overrides the vehicle identity when no flag is given.
const EnvVehicleID = "DRIVEWATCH_VEHICLE_ID"

// vinFile is written by the vehicle's provisioning step.
var vinFile = "/etc/drivewatch/vin"

// DiscoverVehicleID resolves the vehicle identity: the explicit value, then
// the environment, then the provisioned VIN file, then the hostname.
func DiscoverVehicleID(explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}

	if envID := strings.TrimSpace(os.Getenv(EnvVehicleID)); envID != "" {
		log.Info("VehicleID detected from env", "id", envID)
		return envID
	}

	if content, err := os.ReadFile(vinFile); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("VehicleID detected from file", "id", id, "file", vinFile)
			return id
		}
	}

	if host, err := os.Hostname(); err == nil && host != "" {
		log.Info("VehicleID falling back to hostname", "id", host)
		return host
	}

	return ""
}

package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DetectionOptions)(nil)

// DetectionOptions configures access to the remote drowsiness detection service.
type DetectionOptions struct {
	// ServerURL is the base URL for the start, stop and check endpoints.
	ServerURL string `json:"server-url" mapstructure:"server-url"`

	// PollInterval is the period of the drowsiness check while driving.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// Timeout bounds every single request to the detection service.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewDetectionOptions creates a DetectionOptions with default values.
func NewDetectionOptions() *DetectionOptions {
	return &DetectionOptions{
		ServerURL:    "http://localhost:5000",
		PollInterval: 5 * time.Second,
		Timeout:      10 * time.Second,
	}
}

// Validate checks the server URL and the durations.
func (o *DetectionOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateHTTPURL(o.ServerURL); err != nil {
		errors = append(errors, fmt.Errorf("detection.server-url: %w", err))
	}
	if o.PollInterval <= 0 {
		errors = append(errors, fmt.Errorf("detection.poll-interval must be positive, got %s", o.PollInterval))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("detection.timeout must be positive, got %s", o.Timeout))
	}

	return errors
}

// AddFlags adds flags for DetectionOptions to the specified FlagSet.
func (o *DetectionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ServerURL, "detection.server-url", o.ServerURL, "Base URL of the drowsiness detection service (env SERVER_URL).")
	fs.DurationVar(&o.PollInterval, "detection.poll-interval", o.PollInterval, "Interval between drowsiness checks while a session is active.")
	fs.DurationVar(&o.Timeout, "detection.timeout", o.Timeout, "Timeout for a single request to the detection service.")
}

package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions contains configuration items related to the admin HTTP server.
type HttpOptions struct {
	// Address with server address. Empty disables the server.
	Addr string `json:"addr" mapstructure:"addr"`

	// ReadTimeout bounds reading a full request, including the body.
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// ShutdownTimeout bounds the graceful shutdown of the server.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Enabled reports whether the admin server should be started.
func (o *HttpOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags related to the admin HTTP server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Admin HTTP server bind address and port. Empty disables the server.")
	fs.DurationVar(&o.ReadTimeout, "http.read-timeout", o.ReadTimeout, "Maximum duration for reading an entire request.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Timeout for graceful shutdown of the admin server.")
}

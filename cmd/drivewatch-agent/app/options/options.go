package options

import (
	"strings"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/drivewatch/internal/drivewatch"
	"github.com/autopeer-io/drivewatch/pkg/app"
	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/options"
)

// AgentIdentityOptions holds the in-vehicle settings of the agent.
type AgentIdentityOptions struct {
	// VehicleID overrides discovery from env, VIN file and hostname.
	VehicleID string `json:"vehicle-id" mapstructure:"vehicle-id"`
	// Console enables the interactive terminal.
	Console bool `json:"console" mapstructure:"console"`
}

func (o *AgentIdentityOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.VehicleID, "agent.vehicle-id", o.VehicleID,
		"Vehicle identity. Discovered from DRIVEWATCH_VEHICLE_ID, /etc/drivewatch/vin or the hostname when empty.")
	fs.BoolVar(&o.Console, "agent.console", o.Console, "Read start/stop commands from stdin and render the session state.")
}

type AgentOptions struct {
	Agent            *AgentIdentityOptions     `json:"agent" mapstructure:"agent"`
	DetectionOptions *options.DetectionOptions `json:"detection" mapstructure:"detection"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		Agent:            &AgentIdentityOptions{Console: true},
		DetectionOptions: options.NewDetectionOptions(),
		HttpOptions:      options.NewHttpOptions(),
		MqttOptions:      options.NewMqttOptions(),
		S3Options:        options.NewS3Options(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.Agent.AddFlags(fss.FlagSet("agent"))
	o.DetectionOptions.AddFlags(fss.FlagSet("detection"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	o.Agent.VehicleID = strings.TrimSpace(o.Agent.VehicleID)
	o.DetectionOptions.ServerURL = strings.TrimSuffix(strings.TrimSpace(o.DetectionOptions.ServerURL), "/")
	if o.Log.Name == "" {
		o.Log.Name = "drivewatch-agent"
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.DetectionOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*drivewatch.Config, error) {
	return &drivewatch.Config{
		VehicleID:        o.Agent.VehicleID,
		Console:          o.Agent.Console,
		DetectionOptions: o.DetectionOptions,
		HttpOptions:      o.HttpOptions,
		MqttOptions:      o.MqttOptions,
		S3Options:        o.S3Options,
	}, nil
}

package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/drivewatch/cmd/drivewatch-agent/app/options"
	"github.com/autopeer-io/drivewatch/pkg/app"
)

const (
	commandName = "drivewatch-agent"
	commandDesc = `The DriveWatch agent runs in the vehicle. While a driving session is
active it polls the drowsiness detection service and alerts the driver
when drowsiness is detected. Sessions are started and stopped from the
console or the admin HTTP API.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch a DriveWatch drowsiness alert agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithLogOptions(opts.Log),
		app.WithDefaultValidArgs(),
		app.WithEnvAlias("detection.server-url", "SERVER_URL"),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}

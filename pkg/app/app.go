package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/drivewatch/pkg/log"
)

// RunFunc is the main entry of a command, called after options are loaded
// and validated.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// App is a cobra command wired to a NamedFlagSetOptions struct, a config file
// and environment variables.
type App struct {
	name        string
	shortDesc   string
	description string
	run         RunFunc
	options     NamedFlagSetOptions
	logOptions  *log.Options
	args        cobra.PositionalArgs
	envAliases  map[string][]string

	viper *viper.Viper
	cmd   *cobra.Command
}

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithLogOptions names the log options that are applied before RunFunc.
func WithLogOptions(opts *log.Options) Option {
	return func(a *App) {
		a.logOptions = opts
	}
}

func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.run = run
	}
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithEnvAlias binds extra environment variable names to a config key, on top
// of the automatic PREFIX_SECTION_KEY name.
func WithEnvAlias(key string, envs ...string) Option {
	return func(a *App) {
		if a.envAliases == nil {
			a.envAliases = map[string][]string{}
		}
		a.envAliases[key] = append(a.envAliases[key], envs...)
	}
}

func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		viper:     viper.New(),
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()
	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          a.args,
		RunE:          a.runCommand,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}

	global := fss.FlagSet("global")
	global.BoolP("help", "h", false, fmt.Sprintf("Help for %s.", a.name))
	addConfigFlag(a.viper, a.name, global)

	for _, f := range fss.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString(configFlagName)
	if err := readConfig(a.viper, a.name, cfgFile); err != nil {
		return err
	}

	if err := a.viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	for key, envs := range a.envAliases {
		// The automatic name keeps working alongside the aliases.
		auto := envPrefix(a.name) + "_" + envKey(key)
		if err := a.viper.BindEnv(append([]string{key}, append(envs, auto)...)...); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.viper.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to unmarshal configuration: %w", err)
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.logOptions != nil {
		log.Init(a.logOptions)
		klog.SetLogger(log.Logr().WithName("klog"))
	}
	defer func() { _ = log.Sync() }()

	if used := a.viper.ConfigFileUsed(); used != "" {
		log.Info("Loaded configuration file", "file", used)
	}
	watchConfig(a.viper)

	if a.run == nil {
		return nil
	}
	return a.run()
}

func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// ValidateAll aggregates validation errors from several option groups.
func ValidateAll(groups ...[]error) error {
	var errs []error
	for _, g := range groups {
		errs = append(errs, g...)
	}
	return utilerrors.NewAggregate(errs)
}

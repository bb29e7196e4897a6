package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/drivewatch/pkg/log"
)

const configFlagName = "config"

// addConfigFlag registers --config and prepares viper to read the command's
// config file and environment.
func addConfigFlag(v *viper.Viper, name string, fs *pflag.FlagSet) {
	fs.StringP(configFlagName, "c", "", "Read configuration from the specified file. Supports JSON, TOML and YAML.")

	v.SetEnvPrefix(envPrefix(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// envPrefix turns a command name like drivewatch-agent into DRIVEWATCH.
func envPrefix(name string) string {
	prefix, _, _ := strings.Cut(name, "-")
	return strings.ToUpper(prefix)
}

// readConfig loads the config file when one is given or found in the default
// locations. A missing default file is not an error.
func readConfig(v *viper.Viper, name, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+envPrefixLower(name)))
		}
		v.AddConfigPath(filepath.Join("/etc", envPrefixLower(name)))
		v.AddConfigPath(".")
		v.SetConfigName(name)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file %q: %w", cfgFile, err)
	}
	return nil
}

func envPrefixLower(name string) string {
	return strings.ToLower(envPrefix(name))
}

// watchConfig logs edits of the loaded config file. Options are bound once at
// startup, so edits take effect on the next restart.
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Warn("Configuration file changed, restart to apply", "file", e.Name, "op", e.Op.String())
	})
	v.WatchConfig()
}

package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gosuri/uitable"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/vandash/pkg/log"
)

const (
	configFlagName = "config"

	// EnvPrefix prefixes every environment variable that overrides a flag,
	// e.g. VANDASH_HTTP_ADDR for --http.addr.
	EnvPrefix = "VANDASH"
)

func addConfigFlag(fs *pflag.FlagSet, cfgFile *string, name string) {
	fs.StringVarP(cfgFile, configFlagName, "c", "",
		fmt.Sprintf("Read %s configuration from the specified file. Supports YAML, JSON and TOML.", name))
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the explicit config file, or searches the default
// locations for <name>.yaml. A missing file is only an error when it was
// requested explicitly.
func loadConfig(v *viper.Viper, cfgFile, name string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".vandash"))
		}
		v.AddConfigPath("/etc/vandash")
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

// watchConfig applies log level changes from the config file without a restart.
func watchConfig(v *viper.Viper, onChange func(*viper.Viper)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if lvl := v.GetString("log.level"); lvl != "" {
			log.SetLevel(lvl)
		}
		log.Info("Configuration file changed", "file", e.Name, "log.level", v.GetString("log.level"))
		if onChange != nil {
			onChange(v)
		}
	})
	v.WatchConfig()
}

func printConfig(w io.Writer, v *viper.Viper) {
	keys := v.AllKeys()
	sort.Strings(keys)

	table := uitable.New()
	table.Separator = " "
	table.MaxColWidth = 80
	table.RightAlign(0)
	for _, k := range keys {
		table.AddRow(k+":", redact(k, v.Get(k)))
	}
	fmt.Fprintf(w, "%v\n", table)
}

var sensitiveSuffixes = []string{"password", "secret", "token"}

// redact masks non-empty values of credential keys.
func redact(key string, val any) any {
	key = strings.ToLower(key)
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(key, suffix) && fmt.Sprint(val) != "" {
			return "******"
		}
	}
	return val
}

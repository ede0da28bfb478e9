package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rclone/rclone/fs/config/configmap"
	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v2"
)

// EnvPrefix is prepended to upper cased option names to make the
// environment variable for each option, eg PHOEUP_URL
const EnvPrefix = "PHOEUP_"

// Layers is a configmap.Getter which asks each getter in turn and
// returns the first value found.
type Layers []configmap.Getter

// Get returns the value for key from the first layer which has it
func (l Layers) Get(key string) (value string, ok bool) {
	for _, g := range l {
		if g == nil {
			continue
		}
		if value, ok = g.Get(key); ok {
			return value, true
		}
	}
	return "", false
}

// FlagName converts an option name into its command line flag
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// flagGetter reads options from flags which were set on the command line
type flagGetter struct {
	flags *pflag.FlagSet
}

// Get returns the flag value for key if the flag was given
func (g flagGetter) Get(key string) (string, bool) {
	flag := g.flags.Lookup(FlagName(key))
	if flag == nil || !flag.Changed {
		return "", false
	}
	return flag.Value.String(), true
}

// envGetter reads options from the environment
type envGetter struct {
	lookup func(string) (string, bool)
}

// EnvName returns the environment variable for key
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Get returns the environment value for key if it is set
func (g envGetter) Get(key string) (string, bool) {
	return g.lookup(EnvName(key))
}

// loadConfigFile reads a YAML file of option names to values. Keys may
// use "-" or "_".
func loadConfigFile(path string) (configmap.Simple, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	out := configmap.Simple{}
	for key, value := range raw {
		if value == nil {
			continue
		}
		switch value.(type) {
		case map[interface{}]interface{}, []interface{}:
			return nil, fmt.Errorf("config file %q: %q must be a single value", path, key)
		}
		out[strings.ReplaceAll(key, "-", "_")] = fmt.Sprint(value)
	}
	return out, nil
}

// NewLayers builds the config getter for a command: flags given on the
// command line, then the environment, then the YAML file named by the
// config flag if any. Anything else takes its default.
func NewLayers(flags *pflag.FlagSet, lookupEnv func(string) (string, bool)) (Layers, error) {
	layers := Layers{
		flagGetter{flags: flags},
		envGetter{lookup: lookupEnv},
	}
	configPath, _ := layers.Get("config")
	if configPath != "" {
		file, err := loadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		layers = append(layers, file)
	}
	return layers, nil
}

package server

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// Configuration is the server's YAML configuration. Environment variables
// of the form CONVERGE_* override individual fields after decode.
type Configuration struct {
	Version int `yaml:"version"`

	Log struct {
		// Level is one of the logrus levels ("debug", "info", ...).
		Level string `yaml:"level,omitempty"`
		// Formatter is "text" or "json".
		Formatter string `yaml:"formatter,omitempty"`
	} `yaml:"log"`

	HTTP struct {
		// Addr is the listen address, e.g. ":7690".
		Addr string `yaml:"addr,omitempty"`
		Debug struct {
			Prometheus struct {
				Enabled bool   `yaml:"enabled,omitempty"`
				Path    string `yaml:"path,omitempty"`
			} `yaml:"prometheus,omitempty"`
		} `yaml:"debug,omitempty"`
	} `yaml:"http"`

	Storage struct {
		// DataDir is the root directory holding identity files and
		// per-repo state.
		DataDir string `yaml:"datadir,omitempty"`
	} `yaml:"storage"`

	Bootstrap struct {
		// Token is the one-time bootstrap token; empty disables the
		// bootstrap endpoint.
		Token string `yaml:"token,omitempty"`
		// DevUser/DevToken seed a first-run dev identity when set and the
		// identity store is empty.
		DevUser  string `yaml:"devuser,omitempty"`
		DevToken string `yaml:"devtoken,omitempty"`
	} `yaml:"bootstrap"`
}

const currentConfigVersion = 1

// Parse decodes a Configuration from rd, applies CONVERGE_* environment
// overrides, and fills defaults.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	config := new(Configuration)
	if err := yaml.Unmarshal(in, config); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if config.Version == 0 {
		config.Version = currentConfigVersion
	}
	if config.Version != currentConfigVersion {
		return nil, fmt.Errorf("unsupported configuration version %d", config.Version)
	}

	applyEnvOverrides(config)
	applyDefaults(config)
	return config, nil
}

// Default returns the configuration used when no config file is given:
// all defaults plus environment overrides.
func Default() *Configuration {
	config := new(Configuration)
	config.Version = currentConfigVersion
	applyEnvOverrides(config)
	applyDefaults(config)
	return config
}

func applyEnvOverrides(config *Configuration) {
	if v := os.Getenv("CONVERGE_HTTP_ADDR"); v != "" {
		config.HTTP.Addr = v
	}
	if v := os.Getenv("CONVERGE_STORAGE_DATADIR"); v != "" {
		config.Storage.DataDir = v
	}
	if v := os.Getenv("CONVERGE_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("CONVERGE_BOOTSTRAP_TOKEN"); v != "" {
		config.Bootstrap.Token = v
	}
}

func applyDefaults(config *Configuration) {
	if config.HTTP.Addr == "" {
		config.HTTP.Addr = ":7690"
	}
	if config.Storage.DataDir == "" {
		config.Storage.DataDir = "./converge-data"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Formatter == "" {
		config.Log.Formatter = "text"
	}
	if config.HTTP.Debug.Prometheus.Path == "" {
		config.HTTP.Debug.Prometheus.Path = "/metrics"
	}
}

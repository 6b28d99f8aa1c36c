package main

import (
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v2"

	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Config is the YAML configuration file. Command-line flags override it.
type Config struct {
	Workers         int             `yaml:"workers"`
	ChunkSize       int             `yaml:"chunk_size"`
	CacheSize       int             `yaml:"cache_size"`
	MissingStrategy string          `yaml:"missing_strategy"`
	Method          string          `yaml:"method"`
	Threshold       ThresholdConfig `yaml:"threshold"`
	ByName          bool            `yaml:"by_name"`
	Median          bool            `yaml:"median"`
	Log             LogConfig       `yaml:"log"`
}

// ThresholdConfig configures the threshold combination method.
type ThresholdConfig struct {
	Class string `yaml:"class"`
	K     int    `yaml:"k"`
}

// LogConfig configures logging and log file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		ChunkSize:       256,
		MissingStrategy: "last_prediction",
		Method:          "plurality",
		ByName:          true,
		Log: LogConfig{
			Level:      "warn",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig reads path over the defaults. Keys absent from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "open config %s", path)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

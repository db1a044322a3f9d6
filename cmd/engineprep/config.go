package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the engineprep configuration file
// (~/.config/engineprep/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	Backend   string `yaml:"backend"`
	Device    *int64 `yaml:"device"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Calibration
	BatchSize      *int64 `yaml:"batch_size"`
	MaxCalibration *int64 `yaml:"max_calibration_size"`
	CachePath      string `yaml:"cache"`
	DataDir        string `yaml:"calibration_data"`
	Preprocess     string `yaml:"preprocess"`
	InputShape     string `yaml:"input_shape"`
	Seed           *int64 `yaml:"seed"`

	// Engine
	Profile *int64 `yaml:"profile"`
	Point   string `yaml:"point"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "engineprep", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyCommonConfig applies device, logging and engine defaults when the
// corresponding flag was not set on the command line.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceOrdinal = *cfg.Device
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.Profile != nil && !c.IsSet("profile") {
		profileIndex = *cfg.Profile
	}
	if cfg.Point != "" && !c.IsSet("point") {
		shapePoint = cfg.Point
	}
}

func applyCalibrateConfig(c *cli.Command, cfg Config, o *calibrateOptions) {
	applyCommonConfig(c, cfg)
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		o.batchSize = *cfg.BatchSize
	}
	if cfg.MaxCalibration != nil && !c.IsSet("max-calibration-size") {
		o.maxSamples = *cfg.MaxCalibration
	}
	if cfg.CachePath != "" && !c.IsSet("cache") {
		o.cachePath = cfg.CachePath
	}
	if cfg.DataDir != "" && !c.IsSet("calibration-data") {
		o.dataDir = cfg.DataDir
	}
	if cfg.Preprocess != "" && !c.IsSet("preprocess") {
		o.preprocess = cfg.Preprocess
	}
	if cfg.InputShape != "" && !c.IsSet("input-shape") {
		o.inputShape = cfg.InputShape
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.seed = *cfg.Seed
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

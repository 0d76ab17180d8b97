// Package config reads the application configuration from command-line
// flags layered over an optional YAML file. File values replace the
// defaults; flags given on the command line replace file values.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultPort = 1716

type Config struct {
	DB         string `yaml:"db"`
	Debug      bool   `yaml:"debug"`
	DeviceName string `yaml:"name"`
	DeviceType string `yaml:"type"`
	// Listen is the LAN address for incoming channels. Empty disables it.
	Listen string `yaml:"listen"`
	// Peers are dialed at startup.
	Peers []string `yaml:"peers"`
	// Metrics is the address of the Prometheus endpoint. Empty disables it.
	Metrics         string `yaml:"metrics"`
	Pictures        string `yaml:"pictures"`
	TransferWorkers int    `yaml:"transferWorkers"`
	TransferRetries int    `yaml:"transferRetries"`
}

// Options are flags that select what to do rather than how.
type Options struct {
	Version bool
	Help    bool
	// Service starts without showing the window, as done at login.
	Service bool
}

// Default returns the configuration used when neither a file nor flags set
// a value.
func Default(configDir, homeDir, appID string) Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "pairlink"
	}
	return Config{
		DB:              filepath.Join(configDir, appID, "data.db"),
		DeviceName:      hostname,
		DeviceType:      "desktop",
		Listen:          fmt.Sprintf(":%d", DefaultPort),
		Pictures:        filepath.Join(homeDir, "Pictures"),
		TransferWorkers: 4,
		TransferRetries: 2,
	}
}

// Load overlays the YAML file at path onto cfg.
func Load(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.DB == "" {
		return errors.New("db path cannot be empty")
	}
	if c.DeviceName == "" {
		return errors.New("device name cannot be empty")
	}
	switch c.DeviceType {
	case "desktop", "laptop", "phone", "tablet", "tv":
	default:
		return fmt.Errorf("unknown device type %q", c.DeviceType)
	}
	if c.TransferWorkers <= 0 {
		return fmt.Errorf("transferWorkers must be positive, got %d", c.TransferWorkers)
	}
	if c.TransferRetries < 0 {
		return fmt.Errorf("transferRetries cannot be negative, got %d", c.TransferRetries)
	}
	return nil
}

// Parse defines the flags on fs, parses args and returns defaults overlaid
// with the -config file and then with the flags that were set.
func Parse(fs *flag.FlagSet, args []string, defaults Config) (Config, Options, error) {
	var (
		opts    Options
		flagged = defaults
	)
	flagged.Peers = nil
	configPath := fs.String("config", "", "path to YAML configuration file")
	fs.StringVar(&flagged.DB, "db", defaults.DB, "path to database")
	fs.BoolVar(&flagged.Debug, "debug", defaults.Debug, "verbose output for debugging")
	fs.StringVar(&flagged.DeviceName, "name", defaults.DeviceName, "device name announced to peers")
	fs.StringVar(&flagged.DeviceType, "type", defaults.DeviceType, "device type announced to peers")
	fs.StringVar(&flagged.Listen, "listen", defaults.Listen, "LAN address to accept devices on (empty disables)")
	fs.Func("peer", "address of a device to connect to (repeatable)", func(s string) error {
		if s == "" {
			return errors.New("empty peer address")
		}
		flagged.Peers = append(flagged.Peers, s)
		return nil
	})
	fs.StringVar(&flagged.Metrics, "metrics", defaults.Metrics, "address of the Prometheus metrics endpoint (empty disables)")
	fs.StringVar(&flagged.Pictures, "pictures", defaults.Pictures, "directory received photos are saved in")
	fs.IntVar(&flagged.TransferWorkers, "transfer-workers", defaults.TransferWorkers, "maximum concurrent payload transfers")
	fs.IntVar(&flagged.TransferRetries, "transfer-retries", defaults.TransferRetries, "retries of a failed payload transfer")
	fs.BoolVar(&opts.Version, "version", false, "Print version")
	fs.BoolVar(&opts.Help, "help", false, "Print usage")
	fs.BoolVar(&opts.Service, "service", false, "start in the background without a window")
	if err := fs.Parse(args); err != nil {
		return Config{}, opts, err
	}

	cfg := defaults
	if *configPath != "" {
		if err := Load(*configPath, &cfg); err != nil {
			return Config{}, opts, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = flagged.DB
		case "debug":
			cfg.Debug = flagged.Debug
		case "name":
			cfg.DeviceName = flagged.DeviceName
		case "type":
			cfg.DeviceType = flagged.DeviceType
		case "listen":
			cfg.Listen = flagged.Listen
		case "peer":
			cfg.Peers = flagged.Peers
		case "metrics":
			cfg.Metrics = flagged.Metrics
		case "pictures":
			cfg.Pictures = flagged.Pictures
		case "transfer-workers":
			cfg.TransferWorkers = flagged.TransferWorkers
		case "transfer-retries":
			cfg.TransferRetries = flagged.TransferRetries
		}
	})
	if opts.Version || opts.Help {
		return cfg, opts, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, opts, nil
}

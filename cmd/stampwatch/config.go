package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/batch"
	"github.com/cloudbox/stampwatch/notify"
	"github.com/cloudbox/stampwatch/ping"
	"github.com/cloudbox/stampwatch/poller"
	"github.com/cloudbox/stampwatch/traq"
	"github.com/cloudbox/stampwatch/traqing"
)

type authConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"` //nolint:gosec // user-provided credential field
}

type config struct {
	// General configuration
	Host      []string      `yaml:"host"`
	Port      int           `yaml:"port"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch-size"`
	Stats     time.Duration `yaml:"stats"`
	Verbosity string        `yaml:"verbosity"`

	// Authentication for manual cycles
	Auth authConfig `yaml:"authentication"`

	// Tracked stamps in notification order
	Stamps []stampwatch.StampID `yaml:"stamps"`

	// User receiving notifications by direct message
	TargetUser string `yaml:"target-user"`

	Traq    traq.Config    `yaml:"traq"`
	Traqing traqing.Config `yaml:"traqing"`
	Notify  notify.Config  `yaml:"notify"`
	Ping    ping.Config    `yaml:"ping"`
}

func defaultConfig() config {
	return config{
		Host:      []string{""},
		Port:      defaultPort,
		Interval:  poller.DefaultInterval,
		BatchSize: batch.DefaultSize,
		Stats:     1 * time.Hour,
		Traq: traq.Config{
			URL: traq.DefaultURL,
		},
		Traqing: traqing.Config{
			URL: traqing.DefaultURL,
		},
		Ping: ping.Config{
			Enabled: true,
			Trigger: ping.DefaultTrigger,
		},
	}
}

// decodeConfig reads a YAML config on top of the defaults. Unknown keys are
// rejected.
func decodeConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()

	decoder := yaml.NewDecoder(r)
	decoder.SetStrict(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode: %w", err)
	}

	return cfg, nil
}

func (c config) validate() error {
	switch {
	case len(c.Stamps) == 0:
		return errors.New("at least one stamp is required")
	case c.TargetUser == "":
		return errors.New("target-user is required")
	case c.Traq.Token == "":
		return errors.New("bot token is required")
	case c.Traqing.Token == "":
		return errors.New("traqing auth token is required")
	case c.Interval <= 0:
		return fmt.Errorf("interval must be positive: %v", c.Interval)
	}

	seen := make(map[stampwatch.StampID]bool, len(c.Stamps))
	for _, s := range c.Stamps {
		if s == "" {
			return errors.New("empty stamp id")
		}

		if seen[s] {
			return fmt.Errorf("duplicate stamp: %s", s)
		}
		seen[s] = true
	}

	return nil
}

// defaultConfigDirectory prefers the directory of the binary when it already
// holds filename, and falls back to the user config directory.
func defaultConfigDirectory(app, filename string) string {
	if ex, err := os.Executable(); err == nil {
		dir := filepath.Dir(ex)
		if _, err := os.Stat(filepath.Join(dir, filename)); err == nil {
			return dir
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, app)
	}

	return "."
}

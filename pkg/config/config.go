// Package config loads STM tuning from YAML.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"gopkg.in/yaml.v3"

	"tiny_stm/pkg/stm"
)

type Backoff struct {
	Base   time.Duration `yaml:"base"`
	Max    time.Duration `yaml:"max"`
	Jitter time.Duration `yaml:"jitter"`
}

type Config struct {
	MaxRetries int     `yaml:"max_retries"`
	Isolation  string  `yaml:"isolation"`
	Backoff    Backoff `yaml:"backoff"`
}

// Default retries immediately, up to stm.DefaultMaxRetries times, under snapshot isolation.
func Default() Config {
	return Config{
		MaxRetries: stm.DefaultMaxRetries,
		Isolation:  stm.Snapshot.String(),
	}
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse overlays data on Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxRetries <= 0 {
		return errors.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if _, err := stm.ParseIsolation(c.Isolation); err != nil {
		return err
	}
	if c.Backoff.Base < 0 || c.Backoff.Max < 0 || c.Backoff.Jitter < 0 {
		return errors.New("backoff durations must not be negative")
	}
	if c.Backoff.Max > 0 && c.Backoff.Max < c.Backoff.Base {
		return errors.Errorf("backoff max %s is below base %s", c.Backoff.Max, c.Backoff.Base)
	}
	return nil
}

// Options converts c into STM options. c must be valid.
func (c Config) Options(logger *slog.Logger) []stm.Option {
	iso, _ := stm.ParseIsolation(c.Isolation)
	opts := []stm.Option{
		stm.WithMaxRetries(c.MaxRetries),
		stm.WithIsolation(iso),
		stm.WithLogger(logger),
	}
	if fn := c.Backoff.factory(); fn != nil {
		opts = append(opts, stm.WithBackoff(fn))
	}
	return opts
}

func (b Backoff) factory() func() retry.Backoff {
	if b.Base <= 0 {
		return nil
	}
	return func() retry.Backoff {
		backoff := retry.NewExponential(b.Base)
		if b.Max > 0 {
			backoff = retry.WithCappedDuration(b.Max, backoff)
		}
		if b.Jitter > 0 {
			backoff = retry.WithJitter(b.Jitter, backoff)
		}
		return backoff
	}
}

package scheduler

import (
	"time"

	"github.com/posbridge/posbridge/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval          time.Duration
	DrainBatchSize       int
	ReconcileMinutesBack int
	EnabledJobs          []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          time.Minute,
		DrainBatchSize:       25,
		ReconcileMinutesBack: 30,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = defaults.DrainBatchSize
	}
	if c.ReconcileMinutesBack <= 0 {
		c.ReconcileMinutesBack = defaults.ReconcileMinutesBack
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:          cfg.Worker.RunInterval,
		DrainBatchSize:       cfg.Worker.DrainBatchSize,
		ReconcileMinutesBack: int(cfg.Worker.ReconcileWindow / time.Minute),
		EnabledJobs:          cfg.Worker.EnabledJobs,
	}.withDefaults()
}

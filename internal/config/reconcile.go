package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconcileConfig is the operator-tunable side of reconciliation and
// signature-failure alerting. It hot-reloads from posbridge.yml so a sweep
// window or alert threshold can be adjusted without a restart.
type ReconcileConfig struct {
	DefaultMinutesBack   int           `mapstructure:"defaultMinutesBack"`
	MaxMinutesBack       int           `mapstructure:"maxMinutesBack"`
	MaxLocationsPerSweep int           `mapstructure:"maxLocationsPerSweep"`
	AlertThreshold       int           `mapstructure:"alertThreshold"`
	AlertWindow          time.Duration `mapstructure:"alertWindow"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		DefaultMinutesBack:   30,
		MaxMinutesBack:       10080,
		MaxLocationsPerSweep: 200,
		AlertThreshold:       10,
		AlertWindow:          5 * time.Minute,
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

func NewReconcileConfigHolder() (*ReconcileConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("posbridge")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/posbridge/config")
	v.AddConfigPath("/etc/posbridge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("POSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultReconcileConfig()
		v.SetDefault("reconcile.defaultMinutesBack", defaults.DefaultMinutesBack)
		v.SetDefault("reconcile.maxMinutesBack", defaults.MaxMinutesBack)
		v.SetDefault("reconcile.maxLocationsPerSweep", defaults.MaxLocationsPerSweep)
		v.SetDefault("reconcile.alertThreshold", defaults.AlertThreshold)
		v.SetDefault("reconcile.alertWindow", defaults.AlertWindow)
	}

	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Printf("[reconcile-config] reload failed: %v", err)
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Printf("[reconcile-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Current() ReconcileConfig {
	if h == nil {
		return DefaultReconcileConfig()
	}
	if cfg, ok := h.current.Load().(ReconcileConfig); ok {
		return cfg
	}
	return DefaultReconcileConfig()
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.DefaultMinutesBack < 1 {
		return errors.New("reconcile.defaultMinutesBack must be at least 1")
	}
	if cfg.MaxMinutesBack < cfg.DefaultMinutesBack {
		return errors.New("reconcile.maxMinutesBack must cover defaultMinutesBack")
	}
	if cfg.MaxLocationsPerSweep < 1 {
		return errors.New("reconcile.maxLocationsPerSweep must be at least 1")
	}
	if cfg.AlertThreshold < 1 {
		return errors.New("reconcile.alertThreshold must be at least 1")
	}
	if cfg.AlertWindow <= 0 {
		return errors.New("reconcile.alertWindow must be positive")
	}
	return nil
}

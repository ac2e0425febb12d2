package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ToleranceConfig holds the two price-deviation thresholds. They are deliberately
// separate: invoice validation tolerates a relative deviation, while price edits
// only re-version the record when the change exceeds a fixed absolute amount.
type ToleranceConfig struct {
	ValidationPercent float64 `mapstructure:"validationPercent"`
	PriceEditAbsolute float64 `mapstructure:"priceEditAbsolute"`
}

func DefaultToleranceConfig() ToleranceConfig {
	return ToleranceConfig{
		ValidationPercent: 5.0,
		PriceEditAbsolute: 0.01,
	}
}

type ToleranceHolder struct {
	current atomic.Value // holds ToleranceConfig
}

func NewToleranceHolder() (*ToleranceHolder, error) {
	v := viper.New()

	v.SetConfigName("tolerance")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/varekost/config") // Volume-mounted config
	v.AddConfigPath("/etc/varekost")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("VAREKOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultToleranceConfig()
		v.SetDefault("tolerance.validationPercent", defaults.ValidationPercent)
		v.SetDefault("tolerance.priceEditAbsolute", defaults.PriceEditAbsolute)
	}

	var cfg ToleranceConfig
	if err := v.UnmarshalKey("tolerance", &cfg); err != nil {
		return nil, err
	}
	if err := validateToleranceConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ToleranceHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ToleranceConfig
		if err := v.UnmarshalKey("tolerance", &updated); err != nil {
			log.Printf("[tolerance-config] reload failed: %v", err)
			return
		}
		if err := validateToleranceConfig(updated); err != nil {
			log.Printf("[tolerance-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tolerance-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticToleranceHolder returns a holder pinned to the given config. Tests use it.
func NewStaticToleranceHolder(cfg ToleranceConfig) *ToleranceHolder {
	holder := &ToleranceHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ToleranceHolder) Get() ToleranceConfig {
	return h.current.Load().(ToleranceConfig)
}

func validateToleranceConfig(cfg ToleranceConfig) error {
	if cfg.ValidationPercent < 0 {
		return errors.New("tolerance.validationPercent cannot be negative")
	}
	if cfg.PriceEditAbsolute < 0 {
		return errors.New("tolerance.priceEditAbsolute cannot be negative")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	CouponBelowMinimumReject = "reject"
	CouponBelowMinimumDrop   = "drop"
)

// LoyaltyConfig is the operator-tunable loyalty policy. Bonus point amounts
// live in the bonus_settings table; this file carries only process policy.
type LoyaltyConfig struct {
	CouponExpiryDays     int    `mapstructure:"couponExpiryDays"`
	TrailingWindowMonths int    `mapstructure:"trailingWindowMonths"`
	Timezone             string `mapstructure:"timezone"`
	CouponBelowMinimum   string `mapstructure:"couponBelowMinimum"`
	BulkConcurrency      int    `mapstructure:"bulkConcurrency"`
	ConfirmedStatus      string `mapstructure:"confirmedStatus"`
	MaxTxRetries         int    `mapstructure:"maxTxRetries"`
}

func DefaultLoyaltyConfig() LoyaltyConfig {
	return LoyaltyConfig{
		CouponExpiryDays:     90,
		TrailingWindowMonths: 6,
		Timezone:             "UTC",
		CouponBelowMinimum:   CouponBelowMinimumReject,
		BulkConcurrency:      4,
		ConfirmedStatus:      "Pago",
		MaxTxRetries:         3,
	}
}

// Location resolves Timezone, falling back to UTC.
func (c LoyaltyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

func (c LoyaltyConfig) CouponTTL() time.Duration {
	return time.Duration(c.CouponExpiryDays) * 24 * time.Hour
}

type LoyaltyConfigHolder struct {
	current atomic.Value // holds LoyaltyConfig
}

func NewLoyaltyConfigHolder() (*LoyaltyConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("loyalty")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/storefront-ledger/config")
	v.AddConfigPath("/etc/storefront-ledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLoyaltyConfig()
	v.SetDefault("loyalty.couponExpiryDays", defaults.CouponExpiryDays)
	v.SetDefault("loyalty.trailingWindowMonths", defaults.TrailingWindowMonths)
	v.SetDefault("loyalty.timezone", defaults.Timezone)
	v.SetDefault("loyalty.couponBelowMinimum", defaults.CouponBelowMinimum)
	v.SetDefault("loyalty.bulkConcurrency", defaults.BulkConcurrency)
	v.SetDefault("loyalty.confirmedStatus", defaults.ConfirmedStatus)
	v.SetDefault("loyalty.maxTxRetries", defaults.MaxTxRetries)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg LoyaltyConfig
	if err := v.UnmarshalKey("loyalty", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateLoyaltyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LoyaltyConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated LoyaltyConfig
			if err := v.UnmarshalKey("loyalty", &updated); err != nil {
				log.Printf("[loyalty-config] reload failed: %v", err)
				return
			}
			if err := ValidateLoyaltyConfig(updated); err != nil {
				log.Printf("[loyalty-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[loyalty-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticLoyaltyConfigHolder pins a fixed policy, for tests and tooling.
func NewStaticLoyaltyConfigHolder(cfg LoyaltyConfig) *LoyaltyConfigHolder {
	holder := &LoyaltyConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Get returns the current snapshot. A nil holder yields the defaults.
func (h *LoyaltyConfigHolder) Get() LoyaltyConfig {
	if h == nil {
		return DefaultLoyaltyConfig()
	}
	cfg, ok := h.current.Load().(LoyaltyConfig)
	if !ok {
		return DefaultLoyaltyConfig()
	}
	return cfg
}

func ValidateLoyaltyConfig(cfg LoyaltyConfig) error {
	if cfg.CouponExpiryDays <= 0 {
		return errors.New("loyalty.couponExpiryDays must be positive")
	}
	if cfg.TrailingWindowMonths <= 0 {
		return errors.New("loyalty.trailingWindowMonths must be positive")
	}
	if cfg.BulkConcurrency <= 0 {
		return errors.New("loyalty.bulkConcurrency must be positive")
	}
	if cfg.MaxTxRetries < 0 {
		return errors.New("loyalty.maxTxRetries cannot be negative")
	}
	switch cfg.CouponBelowMinimum {
	case CouponBelowMinimumReject, CouponBelowMinimumDrop:
	default:
		return fmt.Errorf("loyalty.couponBelowMinimum %q is not one of reject, drop", cfg.CouponBelowMinimum)
	}
	switch cfg.ConfirmedStatus {
	case "Pago", "Finalizada":
	default:
		return fmt.Errorf("loyalty.confirmedStatus %q is not one of Pago, Finalizada", cfg.ConfirmedStatus)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone)); err != nil {
		return fmt.Errorf("loyalty.timezone: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcileConfig holds tunables that can be changed at runtime through reconcile.yml.
type ReconcileConfig struct {
	DedupTTL                time.Duration `mapstructure:"dedupTTL"`
	CreditMaxAttempts       int           `mapstructure:"creditMaxAttempts"`
	LegacyReferencePrefixes []string      `mapstructure:"legacyReferencePrefixes"`
	LegacyReferenceMinLen   int           `mapstructure:"legacyReferenceMinLength"`
	OrderKeywords           []string      `mapstructure:"orderKeywords"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		DedupTTL:                5 * time.Minute,
		CreditMaxAttempts:       5,
		LegacyReferencePrefixes: []string{"rbc"},
		LegacyReferenceMinLen:   6,
		OrderKeywords:           []string{"merchant_order", "order"},
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcileConfigHolder(cfg Config, log *zap.Logger) (*ReconcileConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.reconcile")

	v := viper.New()
	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	if dir := strings.TrimSpace(cfg.Reconcile.ConfigDir); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("/etc/paynotify")
	v.AddConfigPath(".")

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.dedupTTL", defaults.DedupTTL.String())
	v.SetDefault("reconcile.creditMaxAttempts", defaults.CreditMaxAttempts)
	v.SetDefault("reconcile.legacyReferencePrefixes", defaults.LegacyReferencePrefixes)
	v.SetDefault("reconcile.legacyReferenceMinLength", defaults.LegacyReferenceMinLen)
	v.SetDefault("reconcile.orderKeywords", defaults.OrderKeywords)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	current, err := decodeReconcileConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(current)
	if !found {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeReconcileConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	if h == nil {
		return DefaultReconcileConfig()
	}
	cfg, ok := h.current.Load().(ReconcileConfig)
	if !ok {
		return DefaultReconcileConfig()
	}
	return cfg
}

// decodeReconcileConfig goes through AllSettings so keys missing from the file
// fall back to their defaults.
func decodeReconcileConfig(v *viper.Viper) (ReconcileConfig, error) {
	var wrapper struct {
		Reconcile ReconcileConfig `mapstructure:"reconcile"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return ReconcileConfig{}, err
	}
	return wrapper.Reconcile, nil
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.DedupTTL <= 0 {
		return errors.New("reconcile.dedupTTL must be positive")
	}
	if cfg.CreditMaxAttempts < 1 {
		return errors.New("reconcile.creditMaxAttempts must be at least 1")
	}
	if cfg.LegacyReferenceMinLen < 1 {
		return errors.New("reconcile.legacyReferenceMinLength must be at least 1")
	}
	if len(cfg.OrderKeywords) == 0 {
		return errors.New("reconcile.orderKeywords cannot be empty")
	}
	return nil
}

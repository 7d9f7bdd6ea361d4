package cmd

import (
	"strings"
	"time"

	"inbox-matching-service/internal/calibration"
	"inbox-matching-service/internal/matcher"
	"inbox-matching-service/internal/rates"
	"inbox-matching-service/internal/reconciler"
	"inbox-matching-service/internal/storage"
	apperrors "inbox-matching-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// runtime bundles the wired-up service and its store for command handlers
type runtime struct {
	store   *storage.Store
	service *reconciler.Service
}

// buildRuntime opens the database and assembles the matching service from
// the resolved configuration
func buildRuntime() (*runtime, error) {
	store, err := storage.Open(viper.GetString("db"))
	if err != nil {
		return nil, apperrors.StorageError("open database", err)
	}

	engineCfg := matcher.DefaultConfig()
	if v := viper.GetInt("date-tolerance"); v > 0 {
		engineCfg.DateToleranceDays = v
	}
	if v := viper.GetFloat64("amount-tolerance"); v > 0 {
		engineCfg.AmountTolerancePercent = v
	}
	if v := viper.GetInt("lookback-days"); v > 0 {
		engineCfg.LookbackDays = v
	}
	if v := viper.GetInt("max-suggestions"); v > 0 {
		engineCfg.MaxSuggestions = v
	}
	if err := engineCfg.Validate(); err != nil {
		_ = store.Close()
		return nil, apperrors.ValidationError("matching config", engineCfg, err.Error())
	}

	engine := matcher.NewEngine(engineCfg, store, buildConverter())

	svcCfg := reconciler.DefaultServiceConfig()
	if v := viper.GetInt("concurrency"); v > 0 {
		svcCfg.Concurrency = v
	}
	if v := viper.GetDuration("item-timeout"); v > 0 {
		svcCfg.ItemTimeout = v
	}

	service, err := reconciler.NewService(svcCfg, engine, store, calibration.NewCalibrator(nil))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &runtime{store: store, service: service}, nil
}

// Close releases the runtime's resources
func (r *runtime) Close() error {
	return r.store.Close()
}

// buildConverter assembles the currency converter from the configured rate
// table, e.g. rates.EUR/USD=1.08 in the config file. Without configured
// rates cross-currency candidates score as unknown.
func buildConverter() rates.Converter {
	table := make(map[string]decimal.Decimal)
	for pair, rate := range viper.GetStringMapString("rates") {
		pair = strings.ToUpper(strings.TrimSpace(pair))
		d, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil || !strings.Contains(pair, "/") {
			continue
		}
		table[pair] = d
	}
	if len(table) == 0 {
		return nil
	}
	return rates.NewCache(rates.NewStaticConverter(table), 15*time.Minute, 256)
}

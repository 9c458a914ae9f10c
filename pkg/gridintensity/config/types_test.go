package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
)

func validConfig() *Config {
	return &Config{
		API: APIConfig{
			Timeout:                      time.Second,
			EnergiDataServiceRecordLimit: 4,
		},
		Exporter: ExporterConfig{Interval: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(cfg *Config)
		wantErr    bool
		wantCfgErr bool
	}{
		{name: "valid", modify: func(cfg *Config) {}},
		{
			name: "known providers in any case",
			modify: func(cfg *Config) {
				cfg.API.Keys = map[string]string{"ElectricityMaps": "a", "CARBONINTENSITYGB": "b", "energidataservice": "c"}
			},
		},
		{
			name: "unknown provider",
			modify: func(cfg *Config) {
				cfg.API.Keys = map[string]string{"electricitymaps": "a", "co2signal": "b"}
			},
			wantErr:    true,
			wantCfgErr: true,
		},
		{
			name:    "zero timeout",
			modify:  func(cfg *Config) { cfg.API.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero record limit",
			modify:  func(cfg *Config) { cfg.API.EnergiDataServiceRecordLimit = 0 },
			wantErr: true,
		},
		{
			name:    "zero interval",
			modify:  func(cfg *Config) { cfg.Exporter.Interval = 0 },
			wantErr: true,
		},
		{
			name: "negative retention",
			modify: func(cfg *Config) {
				cfg.History.DatabasePath = "history.db"
				cfg.History.Retention = -time.Hour
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			var cfgErr *intensity.ConfigurationError
			assert.Equal(t, tt.wantCfgErr, errors.As(err, &cfgErr))
		})
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.Timeout = 0
	cfg.Exporter.Interval = 0

	err := cfg.Validate()
	assert.ErrorContains(t, err, "timeout")
	assert.ErrorContains(t, err, "interval")
}

func TestAPIKey(t *testing.T) {
	cfg := APIConfig{Keys: map[string]string{"ElectricityMaps": "secret"}}

	assert.Equal(t, "secret", cfg.APIKey("electricitymaps"))
	assert.Equal(t, "secret", cfg.APIKey("ELECTRICITYMAPS"))
	assert.Empty(t, cfg.APIKey("carbonintensitygb"))
}

func TestKnownProviders(t *testing.T) {
	assert.True(t, KnownProviders.Has(ProviderCarbonIntensityGB))
	assert.True(t, KnownProviders.Has(ProviderEnergiDataService))
	assert.True(t, KnownProviders.Has(ProviderElectricityMaps))
	assert.Equal(t, 3, KnownProviders.Len())
}

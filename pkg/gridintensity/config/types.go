package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
)

// Provider names accepted as API key owners
const (
	ProviderCarbonIntensityGB = "carbonintensitygb"
	ProviderEnergiDataService = "energidataservice"
	ProviderElectricityMaps   = "electricitymaps"
)

// KnownProviders is the set of provider names an API key may be given for
var KnownProviders = sets.New[string](
	ProviderCarbonIntensityGB,
	ProviderEnergiDataService,
	ProviderElectricityMaps,
)

// Config holds all configuration for grid intensity resolution
type Config struct {
	API      APIConfig      `yaml:"api"`
	Location LocationConfig `yaml:"location"`
	Exporter ExporterConfig `yaml:"exporter"`
	History  HistoryConfig  `yaml:"history"`
}

// APIConfig holds configuration for the provider APIs
type APIConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Keys maps a provider name (any case) to its API key
	Keys                         map[string]string `yaml:"keys"`
	CarbonIntensityGBURL         string            `yaml:"carbonIntensityGBUrl"`
	EnergiDataServiceURL         string            `yaml:"energiDataServiceUrl"`
	EnergiDataServiceRecordLimit int               `yaml:"energiDataServiceRecordLimit"`
	ElectricityMapsURL           string            `yaml:"electricityMapsUrl"`
	// ElectricityMapsZones maps country codes to Electricity Maps zones
	ElectricityMapsZones map[string]string `yaml:"electricityMapsZones"`
}

// LocationConfig holds a fixed location used by the binaries
type LocationConfig struct {
	Country string `yaml:"country"`
	Postal  string `yaml:"postal"`
}

// ExporterConfig holds settings of the intensity exporter
type ExporterConfig struct {
	ListenAddress string        `yaml:"listenAddress"`
	Interval      time.Duration `yaml:"interval"`
}

// HistoryConfig holds settings of the resolved intensity history
type HistoryConfig struct {
	// DatabasePath of the SQLite file, empty disables history
	DatabasePath string        `yaml:"databasePath"`
	Retention    time.Duration `yaml:"retention"`
}

// APIKey returns the key configured for provider, ignoring case
func (c *APIConfig) APIKey(provider string) string {
	for name, key := range c.Keys {
		if strings.EqualFold(name, provider) {
			return key
		}
	}
	return ""
}

// Validate performs validation of the configuration. An API key for an
// unknown provider is reported as *intensity.ConfigurationError.
func (c *Config) Validate() error {
	if err := ValidateAPIKeys(c.API.Keys); err != nil {
		return err
	}

	var errs []error
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("API timeout must be positive"))
	}
	if c.API.EnergiDataServiceRecordLimit <= 0 {
		errs = append(errs, fmt.Errorf("energi data service record limit must be positive"))
	}
	if c.Exporter.Interval <= 0 {
		errs = append(errs, fmt.Errorf("exporter interval must be positive"))
	}
	if c.History.DatabasePath != "" && c.History.Retention < 0 {
		errs = append(errs, fmt.Errorf("history retention cannot be negative"))
	}
	return utilerrors.NewAggregate(errs)
}

// ValidateAPIKeys checks every key is addressed to a known provider
func ValidateAPIKeys(keys map[string]string) error {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !KnownProviders.Has(strings.ToLower(name)) {
			return &intensity.ConfigurationError{Provider: name}
		}
	}
	return nil
}

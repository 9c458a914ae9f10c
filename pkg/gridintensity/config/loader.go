package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

const (
	defaultCarbonIntensityGBURL = "https://api.carbonintensity.org.uk"
	defaultEnergiDataServiceURL = "https://api.energidataservice.dk/dataset"
	defaultElectricityMapsURL   = "https://api.electricitymap.org/v3"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from the environment and, when path is set,
// overlays the YAML file at path
func Load(path string) (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"path", path,
		"country", cfg.Location.Country,
		"apiKeys", len(cfg.API.Keys),
		"historyEnabled", cfg.History.DatabasePath != "")

	return cfg, nil
}

func fromEnv() (*Config, error) {
	keys, err := ParseAPIKeys(os.Getenv("GRID_INTENSITY_API_KEYS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		API: APIConfig{
			Timeout:                      getDurationOrDefault("GRID_INTENSITY_API_TIMEOUT", 30*time.Second),
			Keys:                         keys,
			CarbonIntensityGBURL:         getEnvOrDefault("CARBON_INTENSITY_GB_URL", defaultCarbonIntensityGBURL),
			EnergiDataServiceURL:         getEnvOrDefault("ENERGI_DATA_SERVICE_URL", defaultEnergiDataServiceURL),
			EnergiDataServiceRecordLimit: getIntOrDefault("ENERGI_DATA_SERVICE_RECORD_LIMIT", 4),
			ElectricityMapsURL:           getEnvOrDefault("ELECTRICITY_MAPS_URL", defaultElectricityMapsURL),
			ElectricityMapsZones:         loadZoneOverrides(),
		},
		Location: LocationConfig{
			Country: strings.ToUpper(os.Getenv("GRID_INTENSITY_COUNTRY")),
			Postal:  os.Getenv("GRID_INTENSITY_POSTAL"),
		},
		Exporter: ExporterConfig{
			ListenAddress: getEnvOrDefault("GRID_INTENSITY_LISTEN_ADDRESS", ":9464"),
			Interval:      getDurationOrDefault("GRID_INTENSITY_INTERVAL", 15*time.Minute),
		},
		History: HistoryConfig{
			DatabasePath: os.Getenv("GRID_INTENSITY_HISTORY_DB"),
			Retention:    getDurationOrDefault("GRID_INTENSITY_HISTORY_RETENTION", 30*24*time.Hour),
		},
	}, nil
}

// ParseAPIKeys parses a JSON object mapping provider names to API keys.
// An empty string yields no keys.
func ParseAPIKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return keys, nil
	}
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse API keys: %w", err)
	}
	if err := ValidateAPIKeys(keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

// loadZoneOverrides reads ELECTRICITY_MAPS_ZONE_<COUNTRY> variables
// Format: ELECTRICITY_MAPS_ZONE_US=US-CAL-CISO
func loadZoneOverrides() map[string]string {
	zones := make(map[string]string)
	for _, env := range os.Environ() {
		name, value, found := strings.Cut(env, "=")
		if !found || !strings.HasPrefix(name, "ELECTRICITY_MAPS_ZONE_") || value == "" {
			continue
		}
		country := strings.TrimPrefix(name, "ELECTRICITY_MAPS_ZONE_")
		zones[strings.ToUpper(country)] = value
	}
	return zones
}

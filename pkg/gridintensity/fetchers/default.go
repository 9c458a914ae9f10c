// Package fetchers wires the built-in carbon intensity fetchers into a registry.
package fetchers

import (
	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/api"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/config"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/fetchers/carbonintensitygb"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/fetchers/electricitymaps"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/fetchers/energidataservice"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
)

// NewDefaultRegistry builds the registry of built-in fetchers from cfg.
// Order is Carbon Intensity GB, Energi Data Service, then Electricity Maps
// when an API key is configured for it. clientOpts are passed to every
// fetcher's HTTP client after the configured timeout.
func NewDefaultRegistry(cfg *config.APIConfig, clientOpts ...api.ClientOption) *intensity.Registry {
	opts := append([]api.ClientOption{api.WithTimeout(cfg.Timeout)}, clientOpts...)

	registry := intensity.NewRegistry(
		carbonintensitygb.New(
			carbonintensitygb.WithBaseURL(cfg.CarbonIntensityGBURL),
			carbonintensitygb.WithClientOptions(opts...),
		),
		energidataservice.New(
			energidataservice.WithBaseURL(cfg.EnergiDataServiceURL),
			energidataservice.WithRecordLimit(cfg.EnergiDataServiceRecordLimit),
			energidataservice.WithClientOptions(opts...),
		),
	)

	if key := cfg.APIKey(config.ProviderElectricityMaps); key != "" {
		registry.Register(electricitymaps.New(key,
			electricitymaps.WithBaseURL(cfg.ElectricityMapsURL),
			electricitymaps.WithZones(cfg.ElectricityMapsZones),
			electricitymaps.WithClientOptions(opts...),
		))
	}

	names := make([]string, 0, len(registry.Fetchers()))
	for _, f := range registry.Fetchers() {
		names = append(names, f.Name())
	}
	klog.V(2).InfoS("Registered carbon intensity fetchers", "fetchers", names)

	return registry
}

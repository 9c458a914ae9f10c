package intensity

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/metrics"
)

// Registry holds fetchers in priority order. The first suitable fetcher wins.
// It is populated during setup and only read afterwards.
type Registry struct {
	fetchers []Fetcher
}

// NewRegistry creates a registry with the given fetchers in priority order
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register appends a fetcher with the lowest priority so far
func (r *Registry) Register(f Fetcher) {
	if f == nil {
		return
	}
	r.fetchers = append(r.fetchers, f)
}

// Fetchers returns the registered fetchers in priority order
func (r *Registry) Fetchers() []Fetcher {
	out := make([]Fetcher, len(r.fetchers))
	copy(out, r.fetchers)
	return out
}

// Select returns the first fetcher suitable for the location
func (r *Registry) Select(loc location.Location) (Fetcher, error) {
	for _, f := range r.fetchers {
		if f.Suitable(loc) {
			return f, nil
		}
	}
	metrics.RecordNoSuitableFetcher(loc.Country)
	return nil, &NoSuitableFetcherError{Location: loc}
}

// CarbonIntensity selects a fetcher for the location and delegates to it
func (r *Registry) CarbonIntensity(ctx context.Context, loc location.Location, window TimeWindow) (CarbonIntensity, error) {
	fetcher, err := r.Select(loc)
	if err != nil {
		klog.V(2).InfoS("No suitable carbon intensity fetcher", "location", loc.String())
		return CarbonIntensity{}, err
	}

	klog.V(2).InfoS("Fetching carbon intensity",
		"fetcher", fetcher.Name(),
		"location", loc.String(),
		"window", window.String())

	start := time.Now()
	ci, err := fetcher.CarbonIntensity(ctx, loc, window)
	if err == nil {
		if verr := ci.Validate(); verr != nil {
			err = &FetchError{Fetcher: fetcher.Name(), Err: verr}
		}
	}
	metrics.ObserveFetch(fetcher.Name(), time.Since(start), err)
	if err != nil {
		klog.V(2).InfoS("Failed to fetch carbon intensity",
			"fetcher", fetcher.Name(),
			"location", loc.String(),
			"error", err)
		return CarbonIntensity{}, fmt.Errorf("failed to get carbon intensity for %s: %w", loc, err)
	}

	if ci.Fetcher == "" {
		ci.Fetcher = fetcher.Name()
	}
	metrics.SetCarbonIntensity(ci.Fetcher, loc.Country, ci.IsPrediction, ci.CarbonIntensity)

	klog.V(2).InfoS("Resolved carbon intensity",
		"fetcher", ci.Fetcher,
		"location", loc.String(),
		"intensity", ci.CarbonIntensity,
		"isPrediction", ci.IsPrediction)

	return ci, nil
}

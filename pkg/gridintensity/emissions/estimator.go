package emissions

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/metrics"
)

// IntensityResolver resolves carbon intensity for a location and window.
// *intensity.Registry implements it.
type IntensityResolver interface {
	CarbonIntensity(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error)
}

// EnergyMeter supplies the energy consumed by a job in joules
type EnergyMeter interface {
	Joules(ctx context.Context) (float64, error)
}

// FixedMeter is an EnergyMeter reporting a measurement taken elsewhere
type FixedMeter float64

func (m FixedMeter) Joules(ctx context.Context) (float64, error) {
	return float64(m), nil
}

// Estimate is the outcome of a job emissions estimate
type Estimate struct {
	Location      location.Location           `json:"location"`
	Intensities   []intensity.CarbonIntensity `json:"intensities"`
	MeanIntensity float64                     `json:"meanIntensity"`
	Joules        float64                     `json:"joules"`
	KWh           float64                     `json:"kWh"`
	Grams         float64                     `json:"gramsCO2eq"`
}

// Estimator resolves one intensity per time bucket of a job and applies the
// measured energy to their mean
type Estimator struct {
	resolver IntensityResolver
}

// NewEstimator creates an estimator resolving intensities through resolver
func NewEstimator(resolver IntensityResolver) *Estimator {
	return &Estimator{resolver: resolver}
}

// JobEmissions estimates the emissions of a job that ran at loc over
// windows and consumed joules. Any failed bucket aborts the estimate.
func (e *Estimator) JobEmissions(ctx context.Context, loc location.Location, windows []intensity.TimeWindow, joules float64) (Estimate, error) {
	if len(windows) == 0 {
		return Estimate{}, fmt.Errorf("no time windows given")
	}
	if joules < 0 {
		return Estimate{}, errNegativeEnergy
	}

	intensities := make([]intensity.CarbonIntensity, 0, len(windows))
	for i, window := range windows {
		ci, err := e.resolver.CarbonIntensity(ctx, loc, window)
		if err != nil {
			return Estimate{}, fmt.Errorf("bucket %d (%s): %w", i, window, err)
		}
		intensities = append(intensities, ci)
	}

	mean, err := meanIntensity(intensities)
	if err != nil {
		return Estimate{}, err
	}
	grams := mean * KWh(joules)

	metrics.ObserveJobEmissions(loc.Country, grams)
	klog.V(2).InfoS("Estimated job emissions",
		"location", loc.String(),
		"buckets", len(windows),
		"meanIntensity", mean,
		"joules", joules,
		"grams", grams)

	return Estimate{
		Location:      loc,
		Intensities:   intensities,
		MeanIntensity: mean,
		Joules:        joules,
		KWh:           KWh(joules),
		Grams:         grams,
	}, nil
}

// MeteredJobEmissions reads the job's energy from meter and estimates its emissions
func (e *Estimator) MeteredJobEmissions(ctx context.Context, loc location.Location, windows []intensity.TimeWindow, meter EnergyMeter) (Estimate, error) {
	joules, err := meter.Joules(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to read energy: %w", err)
	}
	return e.JobEmissions(ctx, loc, windows, joules)
}

// Buckets splits [start, end) into n consecutive windows of equal length.
// The last window ends exactly at end.
func Buckets(start, end time.Time, n int) ([]intensity.TimeWindow, error) {
	if n < 1 {
		return nil, fmt.Errorf("bucket count must be positive, got %d", n)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	step := end.Sub(start) / time.Duration(n)
	windows := make([]intensity.TimeWindow, 0, n)
	from := start
	for i := 0; i < n; i++ {
		to := from.Add(step)
		if i == n-1 {
			to = end
		}
		windows = append(windows, intensity.Between(from, to))
		from = to
	}
	return windows, nil
}

package metrics

import (
	"time"

	"k8s.io/component-base/metrics"
	"k8s.io/component-base/metrics/legacyregistry"
)

const (
	// Subsystem name used for grid intensity metrics
	subsystem = "grid_intensity"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// CarbonIntensityGauge holds the last resolved carbon intensity per fetcher and country
	CarbonIntensityGauge = metrics.NewGaugeVec(
		&metrics.GaugeOpts{
			Subsystem:      subsystem,
			Name:           "carbon_intensity",
			Help:           "Last resolved carbon intensity (gCO2eq/kWh) for a country",
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"fetcher", "country", "prediction"},
	)

	// FetchTotal counts fetch attempts by result
	FetchTotal = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Subsystem:      subsystem,
			Name:           "fetch_total",
			Help:           "Number of carbon intensity fetches by fetcher and result",
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"fetcher", "result"}, // "success", "error"
	)

	// FetchDuration measures how long a fetcher takes to answer, fallback included
	FetchDuration = metrics.NewHistogramVec(
		&metrics.HistogramOpts{
			Subsystem:      subsystem,
			Name:           "fetch_duration_seconds",
			Help:           "Latency of carbon intensity fetches",
			Buckets:        metrics.ExponentialBuckets(0.01, 2, 12),
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"fetcher"},
	)

	// FallbackTotal counts regional queries that degraded to a national one
	FallbackTotal = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Subsystem:      subsystem,
			Name:           "fallback_total",
			Help:           "Number of regional carbon intensity queries that fell back to national data",
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"fetcher"},
	)

	// NoSuitableFetcherTotal counts lookups for locations no fetcher covers
	NoSuitableFetcherTotal = metrics.NewCounterVec(
		&metrics.CounterOpts{
			Subsystem:      subsystem,
			Name:           "no_suitable_fetcher_total",
			Help:           "Number of lookups for which no fetcher was suitable",
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"country"},
	)

	// JobCarbonEmissions tracks estimated emissions of jobs
	JobCarbonEmissions = metrics.NewHistogramVec(
		&metrics.HistogramOpts{
			Subsystem:      subsystem,
			Name:           "job_carbon_emissions_grams",
			Help:           "Estimated carbon emissions in gCO2eq for jobs",
			Buckets:        metrics.ExponentialBuckets(0.001, 4, 15),
			StabilityLevel: metrics.ALPHA,
		},
		[]string{"country"},
	)
)

func init() {
	legacyregistry.MustRegister(CarbonIntensityGauge)
	legacyregistry.MustRegister(FetchTotal)
	legacyregistry.MustRegister(FetchDuration)
	legacyregistry.MustRegister(FallbackTotal)
	legacyregistry.MustRegister(NoSuitableFetcherTotal)
	legacyregistry.MustRegister(JobCarbonEmissions)
}

// ObserveFetch records the outcome and latency of one fetch
func ObserveFetch(fetcher string, duration time.Duration, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	FetchTotal.WithLabelValues(fetcher, result).Inc()
	FetchDuration.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// SetCarbonIntensity publishes a resolved intensity
func SetCarbonIntensity(fetcher, country string, isPrediction bool, value float64) {
	prediction := "false"
	if isPrediction {
		prediction = "true"
	}
	CarbonIntensityGauge.WithLabelValues(fetcher, country, prediction).Set(value)
}

func RecordFallback(fetcher string) {
	FallbackTotal.WithLabelValues(fetcher).Inc()
}

func RecordNoSuitableFetcher(country string) {
	NoSuitableFetcherTotal.WithLabelValues(country).Inc()
}

func ObserveJobEmissions(country string, grams float64) {
	JobCarbonEmissions.WithLabelValues(country).Observe(grams)
}

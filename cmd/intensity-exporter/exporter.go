package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/emissions"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/history"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

var (
	lastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "grid_intensity",
			Subsystem: "exporter",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful carbon intensity refresh",
		},
	)

	refreshFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "grid_intensity",
			Subsystem: "exporter",
			Name:      "refresh_failures_total",
			Help:      "Number of failed carbon intensity refreshes",
		},
	)
)

func init() {
	legacyregistry.RawMustRegister(lastSuccessTimestamp, refreshFailures)
}

// snapshot is the last resolved intensity served on /intensity
type snapshot struct {
	intensity.CarbonIntensity
	UpdatedAt time.Time `json:"updatedAt"`
}

type exporter struct {
	locations   location.Resolver
	intensities emissions.IntensityResolver
	recorder    history.Recorder
	retention   time.Duration
	clock       clock.PassiveClock

	mu   sync.RWMutex
	last *snapshot
}

func newExporter(locations location.Resolver, intensities emissions.IntensityResolver, recorder history.Recorder, retention time.Duration) *exporter {
	return &exporter{
		locations:   locations,
		intensities: intensities,
		recorder:    recorder,
		retention:   retention,
		clock:       clock.RealClock{},
	}
}

// refresh resolves the current intensity for the configured location. A
// failure keeps the previous snapshot.
func (e *exporter) refresh(ctx context.Context) {
	loc, err := e.locations.Resolve(ctx)
	if err != nil {
		refreshFailures.Inc()
		klog.ErrorS(err, "Failed to resolve location")
		return
	}

	ci, err := e.intensities.CarbonIntensity(ctx, loc, intensity.Current())
	if err != nil {
		refreshFailures.Inc()
		klog.ErrorS(err, "Failed to refresh carbon intensity", "location", loc.String())
		return
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.last = &snapshot{CarbonIntensity: ci, UpdatedAt: now}
	e.mu.Unlock()
	lastSuccessTimestamp.Set(float64(now.Unix()))

	klog.V(2).InfoS("Refreshed carbon intensity",
		"location", loc.String(),
		"fetcher", ci.Fetcher,
		"intensity", ci.CarbonIntensity)

	if e.recorder == nil {
		return
	}
	if _, err := e.recorder.Record(ctx, ci, now); err != nil {
		klog.ErrorS(err, "Failed to record carbon intensity history")
	}
	if e.retention > 0 {
		if _, err := e.recorder.Cleanup(ctx, now.Add(-e.retention)); err != nil {
			klog.ErrorS(err, "Failed to clean up carbon intensity history")
		}
	}
}

func (e *exporter) latest() (snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return snapshot{}, false
	}
	return *e.last, true
}

func (e *exporter) router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", legacyregistry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", e.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/intensity", e.intensityHandler).Methods(http.MethodGet)
	return r
}

func (e *exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e *exporter) intensityHandler(w http.ResponseWriter, r *http.Request) {
	last, ok := e.latest()
	if !ok {
		http.Error(w, "carbon intensity not resolved yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(last); err != nil {
		klog.ErrorS(err, "Failed to encode intensity response")
	}
}

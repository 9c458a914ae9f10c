package intensity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

// CarbonIntensity is a resolved grid carbon intensity for one location and
// time window. Fetchers build it once and hand it back by value.
type CarbonIntensity struct {
	Location location.Location `json:"location"`
	// CarbonIntensity in gCO2eq/kWh
	CarbonIntensity float64 `json:"carbonIntensity"`
	// IsPrediction is set when the requested window ends after the query time
	IsPrediction bool `json:"isPrediction"`
	// Fetcher is the name of the adapter that produced the value
	Fetcher string `json:"fetcher"`
}

// Validate rejects values a fetcher must never return on success
func (c CarbonIntensity) Validate() error {
	if math.IsNaN(c.CarbonIntensity) || math.IsInf(c.CarbonIntensity, 0) {
		return fmt.Errorf("carbon intensity is not a finite number: %v", c.CarbonIntensity)
	}
	if c.CarbonIntensity < 0 {
		return fmt.Errorf("carbon intensity cannot be negative: %f", c.CarbonIntensity)
	}
	return nil
}

// Fetcher resolves carbon intensity from one grid operator's data source
type Fetcher interface {
	// Name identifies the fetcher in configuration, logs and metrics
	Name() string

	// Suitable reports whether the fetcher can answer for the location.
	// It performs no I/O.
	Suitable(loc location.Location) bool

	// CarbonIntensity fetches the intensity for the location over the window.
	// Upstream and transport failures are returned as *FetchError.
	CarbonIntensity(ctx context.Context, loc location.Location, window TimeWindow) (CarbonIntensity, error)
}

// TimeWindow bounds an intensity query. Both ends unset asks for the current
// value; a single unset end defaults to the time of the query.
type TimeWindow struct {
	From *time.Time
	To   *time.Time
}

// Current returns the window that asks for the present value
func Current() TimeWindow {
	return TimeWindow{}
}

// Between returns a window bounded on both ends
func Between(from, to time.Time) TimeWindow {
	return TimeWindow{From: &from, To: &to}
}

// IsCurrent reports whether neither end of the window is set
func (w TimeWindow) IsCurrent() bool {
	return w.From == nil && w.To == nil
}

// Bounds returns both ends in UTC, substituting now for an unset end
func (w TimeWindow) Bounds(now time.Time) (time.Time, time.Time) {
	from, to := now, now
	if w.From != nil {
		from = *w.From
	}
	if w.To != nil {
		to = *w.To
	}
	return from.UTC(), to.UTC()
}

// IsPrediction reports whether the window extends past now
func (w TimeWindow) IsPrediction(now time.Time) bool {
	return w.To != nil && w.To.After(now)
}

func (w TimeWindow) String() string {
	if w.IsCurrent() {
		return "current"
	}
	format := func(t *time.Time) string {
		if t == nil {
			return "now"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s/%s", format(w.From), format(w.To))
}

// Mean returns the arithmetic mean of values
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("cannot average an empty set of values")
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

package electricitymaps

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/api"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

const (
	// Name identifies the fetcher in configuration and metrics
	Name = "electricitymaps"
	// DefaultURL is the Electricity Maps v3 API
	DefaultURL = "https://api.electricitymap.org/v3"

	authHeader = "auth-token"
)

// Fetcher resolves carbon intensity for any zone Electricity Maps covers. It
// needs an API key and is only suitable once one is configured.
type Fetcher struct {
	apiKey        string
	baseURL       string
	zones         map[string]string
	clock         clock.PassiveClock
	clientOptions []api.ClientOption
	client        *api.Client
}

// Option configures the fetcher
type Option func(*Fetcher)

// WithBaseURL overrides the API base URL
func WithBaseURL(baseURL string) Option {
	return func(f *Fetcher) {
		if baseURL != "" {
			f.baseURL = baseURL
		}
	}
}

// WithZones maps country codes to Electricity Maps zones, e.g. "US" to "US-CAL-CISO"
func WithZones(zones map[string]string) Option {
	return func(f *Fetcher) {
		for country, zone := range zones {
			f.zones[strings.ToUpper(country)] = zone
		}
	}
}

// WithClock sets the clock used to decide what "now" is
func WithClock(c clock.PassiveClock) Option {
	return func(f *Fetcher) {
		f.clock = c
	}
}

// WithClientOptions passes options through to the HTTP client
func WithClientOptions(opts ...api.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOptions = append(f.clientOptions, opts...)
	}
}

// New creates an Electricity Maps fetcher using apiKey
func New(apiKey string, opts ...Option) *Fetcher {
	f := &Fetcher{
		apiKey:  apiKey,
		baseURL: DefaultURL,
		zones:   make(map[string]string),
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	clientOpts := append([]api.ClientOption{api.WithHeader(authHeader, apiKey)}, f.clientOptions...)
	f.client = api.NewClient(Name, f.baseURL, clientOpts...)
	return f
}

func (f *Fetcher) Name() string {
	return Name
}

func (f *Fetcher) Suitable(loc location.Location) bool {
	return f.apiKey != "" && loc.Country != ""
}

// Zone returns the Electricity Maps zone for a location
func (f *Fetcher) Zone(loc location.Location) string {
	country := strings.ToUpper(loc.Country)
	if zone, ok := f.zones[country]; ok {
		return zone
	}
	return country
}

type point struct {
	CarbonIntensity *float64 `json:"carbonIntensity"`
	Datetime        string   `json:"datetime"`
}

func (f *Fetcher) CarbonIntensity(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error) {
	zone := f.Zone(loc)
	now := f.clock.Now()

	var (
		value float64
		err   error
	)
	switch {
	case window.IsCurrent():
		value, err = f.latest(ctx, zone)
	case window.IsPrediction(now):
		value, err = f.forecast(ctx, zone, window, now)
	default:
		value, err = f.pastRange(ctx, zone, window, now)
	}
	if err != nil {
		return intensity.CarbonIntensity{}, err
	}

	return intensity.CarbonIntensity{
		Location:        loc,
		CarbonIntensity: value,
		IsPrediction:    window.IsPrediction(now),
		Fetcher:         Name,
	}, nil
}

func (f *Fetcher) latest(ctx context.Context, zone string) (float64, error) {
	query := url.Values{"zone": {zone}}

	var body struct {
		Zone string `json:"zone"`
		point
	}
	if err := f.client.GetJSON(ctx, "/carbon-intensity/latest", query, &body); err != nil {
		return 0, err
	}
	if body.CarbonIntensity == nil {
		return 0, f.emptyError("/carbon-intensity/latest", query)
	}
	return *body.CarbonIntensity, nil
}

func (f *Fetcher) forecast(ctx context.Context, zone string, window intensity.TimeWindow, now time.Time) (float64, error) {
	query := url.Values{"zone": {zone}}

	var body struct {
		Forecast []point `json:"forecast"`
	}
	if err := f.client.GetJSON(ctx, "/carbon-intensity/forecast", query, &body); err != nil {
		return 0, err
	}

	from, to := window.Bounds(now)
	return f.average("/carbon-intensity/forecast", query, body.Forecast, from, to)
}

func (f *Fetcher) pastRange(ctx context.Context, zone string, window intensity.TimeWindow, now time.Time) (float64, error) {
	from, to := window.Bounds(now)
	query := url.Values{
		"zone":  {zone},
		"start": {from.Format(time.RFC3339)},
		"end":   {to.Format(time.RFC3339)},
	}

	var body struct {
		Data []point `json:"data"`
	}
	if err := f.client.GetJSON(ctx, "/carbon-intensity/past-range", query, &body); err != nil {
		return 0, err
	}
	return f.average("/carbon-intensity/past-range", query, body.Data, from, to)
}

// average means the points inside [from, to], or all points when none fall inside
func (f *Fetcher) average(path string, query url.Values, points []point, from, to time.Time) (float64, error) {
	var inside, all []float64
	for _, p := range points {
		if p.CarbonIntensity == nil {
			continue
		}
		all = append(all, *p.CarbonIntensity)

		ts, err := time.Parse(time.RFC3339, p.Datetime)
		if err != nil {
			klog.V(4).InfoS("Skipping point with unparsable datetime", "datetime", p.Datetime)
			continue
		}
		if !ts.Before(from) && !ts.After(to) {
			inside = append(inside, *p.CarbonIntensity)
		}
	}

	values := inside
	if len(values) == 0 {
		values = all
	}
	if len(values) == 0 {
		return 0, f.emptyError(path, query)
	}
	return intensity.Mean(values)
}

func (f *Fetcher) emptyError(path string, query url.Values) error {
	return &intensity.FetchError{
		Fetcher: Name,
		URL:     f.client.URL(path, query),
		Err:     fmt.Errorf("no carbon intensity returned"),
	}
}

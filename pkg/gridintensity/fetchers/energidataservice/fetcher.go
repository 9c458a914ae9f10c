package energidataservice

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/api"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

const (
	// Name identifies the fetcher in configuration and metrics
	Name = "energidataservice"
	// DefaultURL is the Energi Data Service dataset API
	DefaultURL = "https://api.energidataservice.dk/dataset"
	// Country served by this fetcher
	Country = "DK"
	// DefaultRecordLimit caps the number of records returned for a ranged query
	DefaultRecordLimit = 4

	datasetPath = "/CO2Emis"
	timeFormat  = "2006-01-02T15:04"
	// Emissions are only published on 5 minute boundaries
	publishInterval = 5 * time.Minute
)

// Areas are the Danish price areas averaged for the current value
var Areas = []string{"DK1", "DK2"}

// Fetcher resolves Danish carbon intensity from Energi Data Service
type Fetcher struct {
	baseURL       string
	recordLimit   int
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

// WithRecordLimit overrides the record limit of ranged queries
func WithRecordLimit(limit int) Option {
	return func(f *Fetcher) {
		if limit > 0 {
			f.recordLimit = limit
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

// New creates a Danish fetcher
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL:     DefaultURL,
		recordLimit: DefaultRecordLimit,
		clock:       clock.RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client = api.NewClient(Name, f.baseURL, f.clientOptions...)
	return f
}

func (f *Fetcher) Name() string {
	return Name
}

func (f *Fetcher) Suitable(loc location.Location) bool {
	return loc.Country == Country
}

type emissionsResponse struct {
	Total   int `json:"total"`
	Records []struct {
		Minutes5UTC string   `json:"Minutes5UTC"`
		PriceArea   string   `json:"PriceArea"`
		CO2Emission *float64 `json:"CO2Emission"`
	} `json:"records"`
}

func (f *Fetcher) CarbonIntensity(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error) {
	ci := intensity.CarbonIntensity{Location: loc, Fetcher: Name}

	if window.IsCurrent() {
		value, err := f.current(ctx)
		if err != nil {
			return intensity.CarbonIntensity{}, err
		}
		ci.CarbonIntensity = value
		return ci, nil
	}

	now := f.clock.Now()
	value, err := f.prognosis(ctx, window, now)
	if err != nil {
		return intensity.CarbonIntensity{}, err
	}
	ci.CarbonIntensity = value
	ci.IsPrediction = window.IsPrediction(now)
	return ci, nil
}

// current averages the latest emission of every price area. A failure for
// any area fails the whole lookup.
func (f *Fetcher) current(ctx context.Context) (float64, error) {
	values := make([]float64, 0, len(Areas))
	for _, area := range Areas {
		query := url.Values{}
		query.Set("filter", fmt.Sprintf(`{"PriceArea":"%s"}`, area))

		var body emissionsResponse
		if err := f.client.GetJSON(ctx, datasetPath, query, &body); err != nil {
			return 0, err
		}
		if len(body.Records) == 0 || body.Records[0].CO2Emission == nil {
			return 0, &intensity.FetchError{
				Fetcher: Name,
				URL:     f.client.URL(datasetPath, query),
				Err:     fmt.Errorf("no emission records for area %s", area),
			}
		}

		klog.V(3).InfoS("Fetched area emission",
			"area", area,
			"minutes5UTC", body.Records[0].Minutes5UTC,
			"co2Emission", *body.Records[0].CO2Emission)
		values = append(values, *body.Records[0].CO2Emission)
	}

	return intensity.Mean(values)
}

// prognosis averages every emission record published inside the window
func (f *Fetcher) prognosis(ctx context.Context, window intensity.TimeWindow, now time.Time) (float64, error) {
	from, to := window.Bounds(now)

	query := url.Values{}
	query.Set("start", formatTime(from))
	query.Set("end", formatTime(to))
	query.Set("limit", strconv.Itoa(f.recordLimit))

	var body emissionsResponse
	if err := f.client.GetJSON(ctx, datasetPath, query, &body); err != nil {
		return 0, err
	}

	values := make([]float64, 0, len(body.Records))
	for _, r := range body.Records {
		if r.CO2Emission != nil {
			values = append(values, *r.CO2Emission)
		}
	}

	value, err := intensity.Mean(values)
	if err != nil {
		return 0, &intensity.FetchError{
			Fetcher: Name,
			URL:     f.client.URL(datasetPath, query),
			Err:     fmt.Errorf("no emission records in window: %w", err),
		}
	}
	return value, nil
}

// formatTime floors t to the previous 5 minute boundary in UTC and renders
// it as YYYY-MM-DDThh:mm
func formatTime(t time.Time) string {
	return t.UTC().Truncate(publishInterval).Format(timeFormat)
}

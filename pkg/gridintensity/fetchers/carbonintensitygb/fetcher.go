package carbonintensitygb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/api"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/metrics"
)

const (
	// Name identifies the fetcher in configuration and metrics
	Name = "carbonintensitygb"
	// DefaultURL is the National Grid ESO carbon intensity API
	DefaultURL = "https://api.carbonintensity.org.uk"
	// Country served by this fetcher
	Country = "GB"

	timeFormat = "2006-01-02T15:04Z"
)

var errMissingPostcode = errors.New("location has no postcode")

// Fetcher resolves GB carbon intensity, preferring regional data by postcode
// and falling back to the national figure.
type Fetcher struct {
	baseURL       string
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

// New creates a GB fetcher
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL: DefaultURL,
		clock:   clock.RealClock{},
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

// record is one published half-hour intensity slot
type record struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Intensity struct {
		Forecast *float64 `json:"forecast"`
	} `json:"intensity"`
}

type region struct {
	RegionID  int      `json:"regionid"`
	Shortname string   `json:"shortname"`
	Postcode  string   `json:"postcode"`
	Data      []record `json:"data"`
}

func (f *Fetcher) CarbonIntensity(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error) {
	now := f.clock.Now()

	value, err := f.regional(ctx, loc.Postal, window, now)
	if err != nil {
		var fetchErr *intensity.FetchError
		if !errors.As(err, &fetchErr) || ctx.Err() != nil {
			return intensity.CarbonIntensity{}, err
		}

		klog.V(2).InfoS("Regional carbon intensity unavailable, using national data",
			"postcode", loc.Postal,
			"reason", err)
		metrics.RecordFallback(Name)

		value, err = f.national(ctx, window, now)
		if err != nil {
			return intensity.CarbonIntensity{}, err
		}
	}

	return intensity.CarbonIntensity{
		Location:        loc,
		CarbonIntensity: value,
		IsPrediction:    window.IsPrediction(now),
		Fetcher:         Name,
	}, nil
}

// regional returns the forecast intensity for the postcode's region
func (f *Fetcher) regional(ctx context.Context, postcode string, window intensity.TimeWindow, now time.Time) (float64, error) {
	postcode = strings.TrimSpace(postcode)
	if postcode == "" {
		return 0, &intensity.FetchError{Fetcher: Name, Err: errMissingPostcode}
	}

	path := "/regional"
	from, to := window.Bounds(now)
	if !window.IsCurrent() {
		path += "/intensity/" + formatTime(from) + "/" + formatTime(to)
	}
	path += "/postcode/" + url.PathEscape(postcode)

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := f.client.GetJSON(ctx, path, nil, &body); err != nil {
		return 0, err
	}

	// The current endpoint wraps the region in a one-element list, the
	// ranged one does not.
	var reg region
	if window.IsCurrent() {
		var regions []region
		if err := json.Unmarshal(body.Data, &regions); err != nil {
			return 0, f.decodeError(path, err)
		}
		if len(regions) == 0 {
			return 0, f.decodeError(path, fmt.Errorf("no regional data returned"))
		}
		reg = regions[0]
		return f.average(path, reg.Data, nil)
	}

	if err := json.Unmarshal(body.Data, &reg); err != nil {
		return 0, f.decodeError(path, err)
	}
	return f.average(path, reg.Data, &span{from: from, to: to})
}

// national returns the forecast intensity for all of GB
func (f *Fetcher) national(ctx context.Context, window intensity.TimeWindow, now time.Time) (float64, error) {
	path := "/intensity"
	from, to := window.Bounds(now)
	if !window.IsCurrent() {
		path += "/" + formatTime(from) + "/" + formatTime(to)
	}

	var body struct {
		Data []record `json:"data"`
	}
	if err := f.client.GetJSON(ctx, path, nil, &body); err != nil {
		return 0, err
	}

	if window.IsCurrent() {
		if len(body.Data) == 0 || body.Data[0].Intensity.Forecast == nil {
			return 0, f.decodeError(path, fmt.Errorf("no national data returned"))
		}
		return *body.Data[0].Intensity.Forecast, nil
	}
	return f.average(path, body.Data, &span{from: from, to: to})
}

type span struct {
	from time.Time
	to   time.Time
}

// average means the forecasts of the records that overlap s. With a nil span
// or when no record can be matched to it, every record is used.
func (f *Fetcher) average(path string, records []record, s *span) (float64, error) {
	selected := records
	if s != nil {
		if overlapping := overlappingRecords(records, s.from, s.to); len(overlapping) > 0 {
			selected = overlapping
		} else {
			klog.V(3).InfoS("No records matched the requested window, averaging all",
				"records", len(records),
				"from", s.from,
				"to", s.to)
		}
	}

	forecasts := make([]float64, 0, len(selected))
	for _, r := range selected {
		if r.Intensity.Forecast != nil {
			forecasts = append(forecasts, *r.Intensity.Forecast)
		}
	}

	value, err := intensity.Mean(forecasts)
	if err != nil {
		return 0, f.decodeError(path, fmt.Errorf("no intensity forecasts returned: %w", err))
	}
	return value, nil
}

// overlappingRecords keeps records whose slot intersects [from, to). A
// zero-length window keeps the slot containing the instant.
func overlappingRecords(records []record, from, to time.Time) []record {
	from = from.Truncate(time.Minute)
	to = to.Truncate(time.Minute)

	var out []record
	for _, r := range records {
		start, err := time.Parse(timeFormat, r.From)
		if err != nil {
			continue
		}
		end, err := time.Parse(timeFormat, r.To)
		if err != nil {
			continue
		}

		if to.After(from) {
			if start.Before(to) && end.After(from) {
				out = append(out, r)
			}
			continue
		}
		if !start.After(from) && end.After(from) {
			out = append(out, r)
		}
	}
	return out
}

func (f *Fetcher) decodeError(path string, err error) error {
	return &intensity.FetchError{Fetcher: Name, URL: f.client.URL(path, nil), Err: err}
}

// formatTime renders t in UTC as YYYY-MM-DDThh:mmZ
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

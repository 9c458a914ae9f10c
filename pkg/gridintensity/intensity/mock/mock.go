package mock

import (
	"context"
	"fmt"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

// MockFetcher implements intensity.Fetcher for a fixed country
type MockFetcher struct {
	FetcherName string
	Country     string
	Intensity   float64
	ErrorMode   bool

	// Calls records every window the fetcher was asked for
	Calls []intensity.TimeWindow
}

// New creates a mock fetcher that answers for country with a fixed intensity
func New(name, country string, value float64) *MockFetcher {
	return &MockFetcher{FetcherName: name, Country: country, Intensity: value}
}

// NewWithError creates a mock fetcher for country whose fetches always fail
func NewWithError(name, country string) *MockFetcher {
	return &MockFetcher{FetcherName: name, Country: country, ErrorMode: true}
}

func (m *MockFetcher) Name() string {
	return m.FetcherName
}

func (m *MockFetcher) Suitable(loc location.Location) bool {
	return loc.Country == m.Country
}

func (m *MockFetcher) CarbonIntensity(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error) {
	m.Calls = append(m.Calls, window)
	if m.ErrorMode {
		return intensity.CarbonIntensity{}, &intensity.FetchError{
			Fetcher: m.FetcherName,
			Err:     fmt.Errorf("carbon API error (mock)"),
		}
	}
	return intensity.CarbonIntensity{
		Location:        loc,
		CarbonIntensity: m.Intensity,
		Fetcher:         m.FetcherName,
	}, nil
}

// FuncFetcher delegates to per-method functions for finer control in tests
type FuncFetcher struct {
	FetcherName         string
	SuitableFunc        func(loc location.Location) bool
	CarbonIntensityFunc func(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error)
}

func (f *FuncFetcher) Name() string {
	return f.FetcherName
}

func (f *FuncFetcher) Suitable(loc location.Location) bool {
	if f.SuitableFunc != nil {
		return f.SuitableFunc(loc)
	}
	return false
}

func (f *FuncFetcher) CarbonIntensity(ctx context.Context, loc location.Location, window intensity.TimeWindow) (intensity.CarbonIntensity, error) {
	if f.CarbonIntensityFunc != nil {
		return f.CarbonIntensityFunc(ctx, loc, window)
	}
	return intensity.CarbonIntensity{Location: loc}, nil
}

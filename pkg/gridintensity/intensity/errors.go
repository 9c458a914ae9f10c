package intensity

import (
	"fmt"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

// FetchError reports an upstream or transport failure of a fetcher
type FetchError struct {
	Fetcher    string
	URL        string
	StatusCode int
	// Body is the decoded JSON error payload when the provider sent one,
	// otherwise a message naming the status code and request URL
	Body any
	Err  error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "carbon intensity fetch failed"
	}

	base := "carbon intensity fetch failed"
	if e.Fetcher != "" {
		base = fmt.Sprintf("%s: %s", e.Fetcher, base)
	}
	if e.StatusCode > 0 {
		base = fmt.Sprintf("%s (status %d)", base, e.StatusCode)
	}
	if e.URL != "" {
		base = fmt.Sprintf("%s for %s", base, e.URL)
	}
	if e.Body != nil {
		base = fmt.Sprintf("%s: %v", base, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NoSuitableFetcherError is returned when no registered fetcher covers a location
type NoSuitableFetcherError struct {
	Location location.Location
}

func (e *NoSuitableFetcherError) Error() string {
	return fmt.Sprintf("no suitable carbon intensity fetcher for location %s", e.Location)
}

// ConfigurationError is returned for an API key addressed to an unknown provider
type ConfigurationError struct {
	Provider string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid API name '%s' given", e.Provider)
}

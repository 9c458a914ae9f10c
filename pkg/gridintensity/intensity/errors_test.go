package intensity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

func TestFetchErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FetchError
		contains []string
	}{
		{
			name: "structured body",
			err: &FetchError{
				Fetcher:    "carbonintensitygb",
				URL:        "https://api.carbonintensity.org.uk/intensity",
				StatusCode: 400,
				Body:       map[string]any{"error": "Invalid request"},
			},
			contains: []string{"carbonintensitygb", "status 400", "https://api.carbonintensity.org.uk/intensity", "Invalid request"},
		},
		{
			name:     "transport failure",
			err:      &FetchError{Fetcher: "energidataservice", Err: errors.New("connection refused")},
			contains: []string{"energidataservice", "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				assert.Contains(t, msg, want)
			}
		})
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("decode failed")
	wrapped := fmt.Errorf("outer: %w", &FetchError{Err: cause})

	assert.ErrorIs(t, wrapped, cause)

	var fetchErr *FetchError
	assert.ErrorAs(t, wrapped, &fetchErr)
	assert.Nil(t, (*FetchError)(nil).Unwrap())
}

func TestNoSuitableFetcherError(t *testing.T) {
	err := &NoSuitableFetcherError{Location: location.Location{Country: "FR"}}
	assert.Contains(t, err.Error(), "FR")
}

func TestConfigurationError(t *testing.T) {
	err := &ConfigurationError{Provider: "watttime"}
	assert.Equal(t, "invalid API name 'watttime' given", err.Error())
}

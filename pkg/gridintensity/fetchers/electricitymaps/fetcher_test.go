package electricitymaps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFetcher(t *testing.T, key string, handler http.HandlerFunc, opts ...Option) *Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithBaseURL(server.URL), WithClock(clocktesting.NewFakePassiveClock(testNow))}, opts...)
	return New(key, opts...)
}

func TestSuitable(t *testing.T) {
	assert.False(t, New("").Suitable(location.Location{Country: "FR"}))
	assert.True(t, New("key").Suitable(location.Location{Country: "FR"}))
	assert.False(t, New("key").Suitable(location.Location{}))
}

func TestZone(t *testing.T) {
	f := New("key", WithZones(map[string]string{"us": "US-CAL-CISO"}))

	assert.Equal(t, "US-CAL-CISO", f.Zone(location.Location{Country: "US"}))
	assert.Equal(t, "FR", f.Zone(location.Location{Country: "fr"}))
}

func TestCarbonIntensityLatest(t *testing.T) {
	f := newTestFetcher(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carbon-intensity/latest", r.URL.Path)
		assert.Equal(t, "FR", r.URL.Query().Get("zone"))
		assert.Equal(t, "secret", r.Header.Get("auth-token"))
		w.Write([]byte(`{"zone":"FR","carbonIntensity":56,"datetime":"2024-03-01T12:00:00.000Z"}`))
	})

	ci, err := f.CarbonIntensity(context.Background(), location.Location{Country: "FR"}, intensity.Current())
	require.NoError(t, err)
	assert.Equal(t, 56.0, ci.CarbonIntensity)
	assert.False(t, ci.IsPrediction)
	assert.Equal(t, Name, ci.Fetcher)
}

func TestCarbonIntensityForecast(t *testing.T) {
	f := newTestFetcher(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carbon-intensity/forecast", r.URL.Path)
		w.Write([]byte(`{"zone":"DE","forecast":[
			{"carbonIntensity":300,"datetime":"2024-03-01T11:00:00Z"},
			{"carbonIntensity":200,"datetime":"2024-03-01T13:00:00Z"},
			{"carbonIntensity":100,"datetime":"2024-03-01T14:00:00Z"},
			{"carbonIntensity":900,"datetime":"2024-03-01T20:00:00Z"}
		]}`))
	})

	window := intensity.Between(testNow, testNow.Add(2*time.Hour))
	ci, err := f.CarbonIntensity(context.Background(), location.Location{Country: "DE"}, window)
	require.NoError(t, err)
	assert.Equal(t, 150.0, ci.CarbonIntensity)
	assert.True(t, ci.IsPrediction)
}

func TestCarbonIntensityPastRange(t *testing.T) {
	f := newTestFetcher(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carbon-intensity/past-range", r.URL.Path)
		assert.Equal(t, "2024-03-01T10:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-03-01T11:00:00Z", r.URL.Query().Get("end"))
		w.Write([]byte(`{"zone":"DE","data":[
			{"carbonIntensity":410,"datetime":"2024-03-01T10:00:00.000Z"},
			{"carbonIntensity":390,"datetime":"2024-03-01T11:00:00.000Z"}
		]}`))
	})

	window := intensity.Between(testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
	ci, err := f.CarbonIntensity(context.Background(), location.Location{Country: "DE"}, window)
	require.NoError(t, err)
	assert.Equal(t, 400.0, ci.CarbonIntensity)
	assert.False(t, ci.IsPrediction)
}

func TestCarbonIntensityErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		hasBody bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"Invalid auth-token"}`, hasBody: true},
		{name: "missing intensity", status: http.StatusOK, body: `{"zone":"FR","carbonIntensity":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, "secret", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := f.CarbonIntensity(context.Background(), location.Location{Country: "FR"}, intensity.Current())
			var fetchErr *intensity.FetchError
			require.ErrorAs(t, err, &fetchErr)
			if tt.hasBody {
				assert.Equal(t, map[string]any{"message": "Invalid auth-token"}, fetchErr.Body)
			}
		})
	}
}

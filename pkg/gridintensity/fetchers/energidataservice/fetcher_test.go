package energidataservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

var (
	testNow = time.Date(2023, 5, 20, 12, 7, 33, 250000000, time.UTC)
	denmark = location.Location{Country: "DK", Postal: "2100"}
)

// recordingHandler captures queries and answers with handle
type recordingHandler struct {
	mu      sync.Mutex
	queries []map[string]string
	handle  func(w http.ResponseWriter, r *http.Request)
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := map[string]string{"path": r.URL.Path}
	for key := range r.URL.Query() {
		q[key] = r.URL.Query().Get(key)
	}
	h.mu.Lock()
	h.queries = append(h.queries, q)
	h.mu.Unlock()
	h.handle(w, r)
}

func newTestFetcher(t *testing.T, handle func(w http.ResponseWriter, r *http.Request), opts ...Option) (*Fetcher, *recordingHandler) {
	t.Helper()
	h := &recordingHandler{handle: handle}
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	opts = append([]Option{WithBaseURL(server.URL), WithClock(clocktesting.NewFakePassiveClock(testNow))}, opts...)
	return New(opts...), h
}

func TestSuitable(t *testing.T) {
	f := New()
	assert.True(t, f.Suitable(location.Location{Country: "DK"}))
	assert.False(t, f.Suitable(location.Location{Country: "GB"}))
	assert.False(t, f.Suitable(location.Location{Country: "FR"}))
	assert.False(t, f.Suitable(location.Location{Country: "dk"}))
}

func TestFormatTimeFloorsToFiveMinutes(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{
			name:     "seconds and sub-seconds discarded",
			input:    time.Date(2023, 5, 20, 12, 7, 33, 250000000, time.UTC),
			expected: "2023-05-20T12:05",
		},
		{
			name:     "already on boundary",
			input:    time.Date(2023, 5, 20, 12, 5, 0, 0, time.UTC),
			expected: "2023-05-20T12:05",
		},
		{
			name:     "just before the hour",
			input:    time.Date(2023, 5, 20, 12, 59, 59, 999999999, time.UTC),
			expected: "2023-05-20T12:55",
		},
		{
			name:     "local time converted to UTC",
			input:    time.Date(2023, 5, 20, 14, 7, 33, 0, time.FixedZone("CEST", 2*3600)),
			expected: "2023-05-20T12:05",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatTime(tt.input))
		})
	}
}

func TestCarbonIntensityCurrentAveragesAreas(t *testing.T) {
	f, h := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("filter") {
		case `{"PriceArea":"DK1"}`:
			w.Write([]byte(`{"total":2,"records":[{"Minutes5UTC":"2023-05-20T12:05:00","PriceArea":"DK1","CO2Emission":120},{"Minutes5UTC":"2023-05-20T12:00:00","PriceArea":"DK1","CO2Emission":999}]}`))
		case `{"PriceArea":"DK2"}`:
			w.Write([]byte(`{"total":1,"records":[{"Minutes5UTC":"2023-05-20T12:05:00","PriceArea":"DK2","CO2Emission":80}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	ci, err := f.CarbonIntensity(context.Background(), denmark, intensity.Current())
	require.NoError(t, err)

	assert.Equal(t, 100.0, ci.CarbonIntensity)
	assert.False(t, ci.IsPrediction)
	assert.Equal(t, denmark, ci.Location)
	assert.Equal(t, Name, ci.Fetcher)

	require.Len(t, h.queries, 2)
	assert.Equal(t, "/CO2Emis", h.queries[0]["path"])
	assert.Equal(t, `{"PriceArea":"DK1"}`, h.queries[0]["filter"])
	assert.Equal(t, `{"PriceArea":"DK2"}`, h.queries[1]["filter"])
}

func TestCarbonIntensityCurrentFailsOnAnyArea(t *testing.T) {
	f, h := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filter") == `{"PriceArea":"DK2"}` {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"statusCode":503,"error":"Service Unavailable","message":"maintenance"}`))
			return
		}
		w.Write([]byte(`{"records":[{"PriceArea":"DK1","CO2Emission":120}]}`))
	})

	_, err := f.CarbonIntensity(context.Background(), denmark, intensity.Current())

	var fetchErr *intensity.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	body, ok := fetchErr.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "maintenance", body["message"])
	assert.Len(t, h.queries, 2)
}

func TestCarbonIntensityCurrentEmptyRecords(t *testing.T) {
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":0,"records":[]}`))
	})

	_, err := f.CarbonIntensity(context.Background(), denmark, intensity.Current())
	var fetchErr *intensity.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestCarbonIntensityRanged(t *testing.T) {
	tests := []struct {
		name               string
		window             intensity.TimeWindow
		expectedStart      string
		expectedEnd        string
		expectedPrediction bool
	}{
		{
			name:               "future window",
			window:             intensity.TimeWindow{To: ptr.To(testNow.Add(time.Hour))},
			expectedStart:      "2023-05-20T12:05",
			expectedEnd:        "2023-05-20T13:05",
			expectedPrediction: true,
		},
		{
			name:               "historical window",
			window:             intensity.Between(testNow.Add(-2*time.Hour), testNow.Add(-time.Hour)),
			expectedStart:      "2023-05-20T10:05",
			expectedEnd:        "2023-05-20T11:05",
			expectedPrediction: false,
		},
		{
			name:               "only start set",
			window:             intensity.TimeWindow{From: ptr.To(testNow.Add(-17 * time.Minute))},
			expectedStart:      "2023-05-20T11:50",
			expectedEnd:        "2023-05-20T12:05",
			expectedPrediction: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, h := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"total":4,"records":[
					{"PriceArea":"DK1","CO2Emission":100},
					{"PriceArea":"DK2","CO2Emission":60},
					{"PriceArea":"DK1","CO2Emission":110},
					{"PriceArea":"DK2","CO2Emission":70}
				]}`))
			})

			ci, err := f.CarbonIntensity(context.Background(), denmark, tt.window)
			require.NoError(t, err)
			assert.Equal(t, 85.0, ci.CarbonIntensity)
			assert.Equal(t, tt.expectedPrediction, ci.IsPrediction)

			require.Len(t, h.queries, 1)
			assert.Equal(t, tt.expectedStart, h.queries[0]["start"])
			assert.Equal(t, tt.expectedEnd, h.queries[0]["end"])
			assert.Equal(t, "4", h.queries[0]["limit"])
		})
	}
}

func TestRecordLimitOption(t *testing.T) {
	f, h := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"records":[{"CO2Emission":50}]}`))
	}, WithRecordLimit(24), WithRecordLimit(0))

	_, err := f.CarbonIntensity(context.Background(), denmark, intensity.Between(testNow.Add(-time.Hour), testNow))
	require.NoError(t, err)
	assert.Equal(t, "24", h.queries[0]["limit"])
}

func TestCarbonIntensityRangedErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		validate func(t *testing.T, fetchErr *intensity.FetchError)
	}{
		{
			name:   "unparsable error body",
			status: http.StatusInternalServerError,
			body:   "upstream exploded",
			validate: func(t *testing.T, fetchErr *intensity.FetchError) {
				msg, ok := fetchErr.Body.(string)
				require.True(t, ok)
				assert.Contains(t, msg, "500")
				assert.Contains(t, msg, "/CO2Emis?end=")
			},
		},
		{
			name:   "no records",
			status: http.StatusOK,
			body:   `{"total":0,"records":[]}`,
			validate: func(t *testing.T, fetchErr *intensity.FetchError) {
				assert.Error(t, fetchErr.Err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := f.CarbonIntensity(context.Background(), denmark, intensity.Between(testNow.Add(-time.Hour), testNow))
			var fetchErr *intensity.FetchError
			require.ErrorAs(t, err, &fetchErr)
			tt.validate(t, fetchErr)
		})
	}
}

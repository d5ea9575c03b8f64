package candles

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAggregator returns an aggregator whose log output is captured in buf.
func newTestAggregator() (*Aggregator, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)
	return NewAggregator(&logger), buf
}

// Helper function to create test climate events.
func createTestEvent(city, timestamp string, temperature float64) model.ClimateEvent {
	return model.ClimateEvent{
		City:          city,
		Timestamp:     timestamp,
		Temperature:   temperature,
		WindSpeed:     12.5,
		WindDirection: 270,
	}
}

// assertCandleInvariant checks low <= open, close <= high for a candle.
func assertCandleInvariant(t *testing.T, c model.Candle) {
	t.Helper()
	assert.LessOrEqual(t, c.Low, c.High, "low must not exceed high")
	assert.GreaterOrEqual(t, c.Open, c.Low, "open must be >= low")
	assert.LessOrEqual(t, c.Open, c.High, "open must be <= high")
	assert.GreaterOrEqual(t, c.Close, c.Low, "close must be >= low")
	assert.LessOrEqual(t, c.Close, c.High, "close must be <= high")
}

// Test_NewAggregator tests the aggregator constructor.
func Test_NewAggregator(t *testing.T) {
	agg := NewAggregator(nil)

	require.NotNil(t, agg)
	assert.NotNil(t, agg.store)
	assert.Empty(t, agg.Cities())
}

// Test_ProcessEvent_FirstEventOpensCandle covers a single event creating a candle.
func Test_ProcessEvent_FirstEventOpensCandle(t *testing.T) {
	agg, _ := newTestAggregator()

	agg.ProcessEvent(createTestEvent("CapeTown", "2025-06-24T02:00:00.000Z", 16))

	got := agg.CandlesByCity("CapeTown")
	require.Len(t, got, 1)
	assert.Equal(t, 16.0, got[0].Open)
	assert.Equal(t, 16.0, got[0].High)
	assert.Equal(t, 16.0, got[0].Low)
	assert.Equal(t, 16.0, got[0].Close)
	assert.Equal(t, "2025-06-24T02:00:00Z", got[0].Timestamp)
	assert.True(t, time.Date(2025, 6, 24, 2, 0, 0, 0, time.UTC).Equal(got[0].Start))
}

// Test_ProcessEvent_LogsCandleChanges checks create and update are logged at info.
func Test_ProcessEvent_LogsCandleChanges(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.InfoLevel)
	agg := NewAggregator(&logger)

	agg.ProcessEvent(createTestEvent("CapeTown", "2025-06-24T02:00", 16))
	agg.ProcessEvent(createTestEvent("CapeTown", "2025-06-24T02:30", 18))

	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, "created new candle")
	assert.Contains(t, out, "updated candle")
}

// Test_ProcessEvent_SameBucket tests OHLC semantics within one hour.
func Test_ProcessEvent_SameBucket(t *testing.T) {
	tests := []struct {
		name         string
		temperatures []float64
		expected     model.Candle
		description  string
	}{
		{
			name:         "Rise then fall",
			temperatures: []float64{16, 18, 15},
			expected:     model.Candle{Open: 16, High: 18, Low: 15, Close: 15},
			description:  "Close follows the last processed reading",
		},
		{
			name:         "Monotonic increase",
			temperatures: []float64{1, 2, 3, 4},
			expected:     model.Candle{Open: 1, High: 4, Low: 1, Close: 4},
			description:  "High and close track the latest value",
		},
		{
			name:         "Bounds",
			temperatures: []float64{0, -50, 60, 10},
			expected:     model.Candle{Open: 0, High: 60, Low: -50, Close: 10},
			description:  "Inclusive range limits are accepted",
		},
		{
			name:         "Repeated value",
			temperatures: []float64{7, 7, 7},
			expected:     model.Candle{Open: 7, High: 7, Low: 7, Close: 7},
			description:  "Identical readings leave a flat candle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, _ := newTestAggregator()

			for i, temp := range tt.temperatures {
				ts := fmt.Sprintf("2025-06-24T02:%02d:00Z", i*10)
				agg.ProcessEvent(createTestEvent("Berlin", ts, temp))

				snapshot := agg.CandlesByCity("Berlin")
				require.Len(t, snapshot, 1)
				assertCandleInvariant(t, snapshot[0])
			}

			got := agg.CandlesByCity("Berlin")
			require.Len(t, got, 1, tt.description)
			assert.Equal(t, tt.expected.Open, got[0].Open, tt.description)
			assert.Equal(t, tt.expected.High, got[0].High, tt.description)
			assert.Equal(t, tt.expected.Low, got[0].Low, tt.description)
			assert.Equal(t, tt.expected.Close, got[0].Close, tt.description)
		})
	}
}

// Test_ProcessEvent_OutOfOrderWithinBucket documents that close is the last
// processed reading, not the chronologically latest one.
func Test_ProcessEvent_OutOfOrderWithinBucket(t *testing.T) {
	agg, _ := newTestAggregator()

	agg.ProcessEvent(createTestEvent("Tokyo", "2025-06-24T02:50:00Z", 30))
	agg.ProcessEvent(createTestEvent("Tokyo", "2025-06-24T02:05:00Z", 25))

	got := agg.CandlesByCity("Tokyo")
	require.Len(t, got, 1)
	assert.Equal(t, 30.0, got[0].Open)
	assert.Equal(t, 25.0, got[0].Close)
}

// Test_ProcessEvent_InvalidEvents tests that rejected events never touch the store.
func Test_ProcessEvent_InvalidEvents(t *testing.T) {
	tests := []struct {
		name        string
		event       model.ClimateEvent
		field       string
		description string
	}{
		{
			name:        "Empty city",
			event:       createTestEvent("", "2025-06-24T02:00:00Z", 16),
			field:       "city",
			description: "Should reject missing city",
		},
		{
			name:        "NaN temperature",
			event:       createTestEvent("Berlin", "2025-06-24T02:00:00Z", math.NaN()),
			field:       "temperature",
			description: "Should reject non-numeric temperature",
		},
		{
			name:        "Infinite temperature",
			event:       createTestEvent("Berlin", "2025-06-24T02:00:00Z", math.Inf(1)),
			field:       "temperature",
			description: "Should reject infinite temperature",
		},
		{
			name:        "Too cold",
			event:       createTestEvent("Berlin", "2025-06-24T02:00:00Z", -51),
			field:       "temperature",
			description: "Should reject temperature below -50",
		},
		{
			name:        "Too hot",
			event:       createTestEvent("Berlin", "2025-06-24T02:00:00Z", 61),
			field:       "temperature",
			description: "Should reject temperature above 60",
		},
		{
			name:        "Unparseable timestamp",
			event:       createTestEvent("Berlin", "yesterday", 16),
			field:       "timestamp",
			description: "Should reject bad timestamp",
		},
		{
			name:        "Empty timestamp",
			event:       createTestEvent("Berlin", "", 16),
			field:       "timestamp",
			description: "Should reject empty timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, buf := newTestAggregator()
			agg.ProcessEvent(createTestEvent("Berlin", "2025-06-24T01:00:00Z", 10))
			before := agg.CandlesByCity("Berlin")
			buf.Reset()

			agg.ProcessEvent(tt.event)

			assert.Equal(t, before, agg.CandlesByCity("Berlin"), tt.description)
			assert.Equal(t, []string{"Berlin"}, agg.Cities(), tt.description)
			assert.Contains(t, buf.String(), "failed to process event")
			assert.Contains(t, buf.String(), fmt.Sprintf(`"field":"%s"`, tt.field))
		})
	}
}

// Test_Validate_Order tests that city is checked before temperature and timestamp.
func Test_Validate_Order(t *testing.T) {
	_, err := Validate(createTestEvent("", "nope", math.NaN()))
	require.Error(t, err)

	var ee *EventError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "city", ee.Field)
	assert.ErrorIs(t, err, ErrInvalidCity)

	_, err = Validate(createTestEvent("Berlin", "nope", math.NaN()))
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "temperature", ee.Field)
	assert.ErrorIs(t, err, ErrInvalidTemperature)

	_, err = Validate(createTestEvent("Berlin", "nope", 5))
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "timestamp", ee.Field)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	ts, err := Validate(createTestEvent("Berlin", "2025-06-24T02:30", 5))
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 6, 24, 2, 30, 0, 0, time.UTC).Equal(ts))
}

// Test_CandlesByCity_Ordering tests ascending order regardless of arrival order.
func Test_CandlesByCity_Ordering(t *testing.T) {
	agg, _ := newTestAggregator()

	hours := []int{5, 1, 23, 0, 12, 7, 3}
	for _, h := range hours {
		agg.ProcessEvent(createTestEvent("SaoPaulo", fmt.Sprintf("2025-06-24T%02d:15:00Z", h), float64(h)))
	}
	// A bucket on the previous day must sort first.
	agg.ProcessEvent(createTestEvent("SaoPaulo", "2025-06-23T23:59:59Z", -1))

	got := agg.CandlesByCity("SaoPaulo")
	require.Len(t, got, len(hours)+1)
	assert.Equal(t, "2025-06-23T23:00:00Z", got[0].Timestamp)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Start.Before(got[i].Start), "candles must be ascending")
	}
	assert.Equal(t, "2025-06-24T23:00:00Z", got[len(got)-1].Timestamp)
}

// Test_CandlesByCity_Randomized checks ordering and OHLC properties on shuffled input.
func Test_CandlesByCity_Randomized(t *testing.T) {
	agg, _ := newTestAggregator()
	rng := rand.New(rand.NewSource(42))

	type reading struct {
		ts   string
		temp float64
	}
	var readings []reading
	for h := 0; h < 6; h++ {
		for m := 0; m < 10; m++ {
			readings = append(readings, reading{
				ts:   fmt.Sprintf("2025-06-24T%02d:%02d:00Z", h, m*5),
				temp: math.Round((rng.Float64()*110-50)*10) / 10,
			})
		}
	}
	rng.Shuffle(len(readings), func(i, j int) { readings[i], readings[j] = readings[j], readings[i] })

	type expectation struct {
		open, high, low, close float64
		seen                   bool
	}
	expected := map[string]*expectation{}
	for _, r := range readings {
		agg.ProcessEvent(createTestEvent("NewYork", r.ts, r.temp))

		key := r.ts[:13] + ":00:00Z"
		e, ok := expected[key]
		if !ok {
			e = &expectation{open: r.temp, high: r.temp, low: r.temp}
			expected[key] = e
		}
		e.high = math.Max(e.high, r.temp)
		e.low = math.Min(e.low, r.temp)
		e.close = r.temp
	}

	got := agg.CandlesByCity("NewYork")
	require.Len(t, got, len(expected))
	for i, c := range got {
		if i > 0 {
			assert.True(t, got[i-1].Start.Before(c.Start))
		}
		assertCandleInvariant(t, c)
		e := expected[c.Timestamp]
		require.NotNil(t, e, "unexpected bucket %s", c.Timestamp)
		assert.Equal(t, e.open, c.Open)
		assert.Equal(t, e.high, c.High)
		assert.Equal(t, e.low, c.Low)
		assert.Equal(t, e.close, c.Close)
	}
}

// Test_CandlesByCity_EmptyResults tests empty and unknown city queries.
func Test_CandlesByCity_EmptyResults(t *testing.T) {
	agg, buf := newTestAggregator()
	agg.ProcessEvent(createTestEvent("Berlin", "2025-06-24T02:00:00Z", 16))

	empty := agg.CandlesByCity("")
	require.NotNil(t, empty)
	assert.Empty(t, empty)
	assert.Contains(t, buf.String(), "invalid city parameter")

	unknown := agg.CandlesByCity("Nowhere")
	require.NotNil(t, unknown)
	assert.Empty(t, unknown)
	assert.Contains(t, buf.String(), "no candlesticks found for city")
}

// Test_CandlesByCity_Snapshot tests that results are independent of the store.
func Test_CandlesByCity_Snapshot(t *testing.T) {
	agg, _ := newTestAggregator()
	agg.ProcessEvent(createTestEvent("Berlin", "2025-06-24T02:00:00Z", 16))

	snapshot := agg.CandlesByCity("Berlin")
	snapshot[0].High = 59
	snapshot[0].Close = -49

	agg.ProcessEvent(createTestEvent("Berlin", "2025-06-24T02:30:00Z", 17))

	assert.Equal(t, 59.0, snapshot[0].High, "snapshot must not be refreshed by later writes")
	got := agg.CandlesByCity("Berlin")
	assert.Equal(t, 17.0, got[0].High)
	assert.Equal(t, 17.0, got[0].Close)
}

// Test_ProcessEvent_CitiesAreIsolated tests that cities do not share buckets.
func Test_ProcessEvent_CitiesAreIsolated(t *testing.T) {
	agg, _ := newTestAggregator()
	agg.ProcessEvent(createTestEvent("Berlin", "2025-06-24T02:00:00Z", 16))
	agg.ProcessEvent(createTestEvent("Tokyo", "2025-06-24T02:00:00Z", 28))

	assert.Equal(t, []string{"Berlin", "Tokyo"}, agg.Cities())
	assert.Equal(t, 16.0, agg.CandlesByCity("Berlin")[0].Close)
	assert.Equal(t, 28.0, agg.CandlesByCity("Tokyo")[0].Close)
}

// Test_Aggregator_ConcurrentAccess runs one writer against many readers.
func Test_Aggregator_ConcurrentAccess(t *testing.T) {
	agg := NewAggregator(func() *zerolog.Logger { l := zerolog.Nop(); return &l }())

	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					for _, c := range agg.CandlesByCity("Berlin") {
						assertCandleInvariant(t, c)
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		ts := fmt.Sprintf("2025-06-24T%02d:%02d:00Z", i%24, i%60)
		agg.ProcessEvent(createTestEvent("Berlin", ts, float64(i%100)-40))
	}
	close(done)
	wg.Wait()

	assert.Len(t, agg.CandlesByCity("Berlin"), 24)
}

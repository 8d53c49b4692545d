package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardpay-pipeline/internal/config"
)

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Fetch(ctx context.Context, pair string) (int64, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(int64), args.Error(1)
}

func newTestCache(feed Feed, ttl time.Duration) *Cache {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return NewCache(logger, &config.OracleConfig{
		FeedURL:      "http://localhost/rates",
		TTL:          ttl,
		FetchTimeout: time.Second,
	}, feed)
}

func TestCache_GetRate(t *testing.T) {
	ctx := context.Background()
	pair := "USD/USDC"

	t.Run("FreshQuoteIsServedFromCache", func(t *testing.T) {
		feed := new(MockFeed)
		cache := newTestCache(feed, time.Minute)

		feed.On("Fetch", mock.Anything, pair).Return(int64(RateScale), nil).Once()

		first, err := cache.GetRate(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, int64(RateScale), first.Rate)
		assert.False(t, first.Stale)

		second, err := cache.GetRate(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, first.FetchedAt, second.FetchedAt)

		feed.AssertNumberOfCalls(t, "Fetch", 1)
	})

	t.Run("ExpiredQuoteTriggersRefresh", func(t *testing.T) {
		feed := new(MockFeed)
		cache := newTestCache(feed, 10*time.Millisecond)

		feed.On("Fetch", mock.Anything, pair).Return(int64(RateScale), nil).Once()
		feed.On("Fetch", mock.Anything, pair).Return(int64(2*RateScale), nil).Once()

		_, err := cache.GetRate(ctx, pair)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		refreshed, err := cache.GetRate(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, int64(2*RateScale), refreshed.Rate)
		assert.False(t, refreshed.Stale)
	})

	t.Run("FailedRefreshFallsBackToStaleQuote", func(t *testing.T) {
		feed := new(MockFeed)
		cache := newTestCache(feed, 10*time.Millisecond)

		feed.On("Fetch", mock.Anything, pair).Return(int64(RateScale), nil).Once()
		feed.On("Fetch", mock.Anything, pair).Return(int64(0), errors.New("feed down")).Once()

		_, err := cache.GetRate(ctx, pair)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		stale, err := cache.GetRate(ctx, pair)
		require.NoError(t, err)
		assert.True(t, stale.Stale)
		assert.Equal(t, int64(RateScale), stale.Rate)
	})

	t.Run("FailedRefreshWithNoHistoryIsAnError", func(t *testing.T) {
		feed := new(MockFeed)
		cache := newTestCache(feed, time.Minute)

		feed.On("Fetch", mock.Anything, pair).Return(int64(0), errors.New("feed down")).Once()

		_, err := cache.GetRate(ctx, pair)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to refresh rate")
	})

	t.Run("ConcurrentCallersShareOneRefresh", func(t *testing.T) {
		var fetches atomic.Int64
		slowFeed := feedFunc(func(ctx context.Context, p string) (int64, error) {
			fetches.Add(1)
			time.Sleep(30 * time.Millisecond)
			return int64(RateScale), nil
		})
		cache := newTestCache(slowFeed, time.Minute)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				quote, err := cache.GetRate(ctx, pair)
				assert.NoError(t, err)
				assert.Equal(t, int64(RateScale), quote.Rate)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), fetches.Load())
	})
}

type feedFunc func(ctx context.Context, pair string) (int64, error)

func (f feedFunc) Fetch(ctx context.Context, pair string) (int64, error) {
	return f(ctx, pair)
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "WholeNumber", input: "1", want: RateScale},
		{name: "Decimal", input: "0.9998", want: 99_980_000},
		{name: "LeadingDot", input: ".5", want: 50_000_000},
		{name: "ExcessPrecisionTruncated", input: "1.123456789", want: 112_345_678},
		{name: "Whitespace", input: " 2.5 ", want: 250_000_000},
		{name: "Empty", input: "", wantErr: true},
		{name: "Negative", input: "-1", wantErr: true},
		{name: "Zero", input: "0", wantErr: true},
		{name: "NotANumber", input: "abc", wantErr: true},
		{name: "OverflowingWholePart", input: "92233720369", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuote_Convert(t *testing.T) {
	quote := Quote{Pair: "USD/USDC", Rate: 99_980_000} // 0.9998
	assert.Equal(t, int64(9_998), quote.Convert(10_000))

	identity := Quote{Pair: "USD/USD", Rate: RateScale}
	assert.Equal(t, int64(12_345), identity.Convert(12_345))

	// amount*rate exceeds int64 but the true quotient does not: the 128-bit
	// intermediate must yield the exact result, not a wrapped one
	extreme := Quote{Rate: math.MaxInt64}
	assert.Equal(t, int64(92_233_720_368_547_758), extreme.Convert(1_000_000))

	// quotient itself beyond int64 saturates instead of wrapping
	assert.Equal(t, int64(math.MaxInt64), extreme.Convert(math.MaxInt64))

	assert.Equal(t, int64(0), identity.Convert(0))
	assert.Equal(t, int64(0), identity.Convert(-5))
}

func TestHTTPFeed_Fetch(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("SuccessfulFetch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "USD/USDC", r.URL.Query().Get("pair"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"pair":"USD/USDC","rate":"0.9998"}`))
		}))
		defer server.Close()

		feed := NewHTTPFeed(logger, &config.OracleConfig{FeedURL: server.URL, FetchTimeout: time.Second})
		rate, err := feed.Fetch(ctx, "USD/USDC")
		require.NoError(t, err)
		assert.Equal(t, int64(99_980_000), rate)
	})

	t.Run("NonOKStatus", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		feed := NewHTTPFeed(logger, &config.OracleConfig{FeedURL: server.URL, FetchTimeout: time.Second})
		_, err := feed.Fetch(ctx, "USD/USDC")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
	})

	t.Run("MalformedBody", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		feed := NewHTTPFeed(logger, &config.OracleConfig{FeedURL: server.URL, FetchTimeout: time.Second})
		_, err := feed.Fetch(ctx, "USD/USDC")
		require.Error(t, err)
	})
}

var _ Feed = (*MockFeed)(nil)
var _ Feed = (*HTTPFeed)(nil)

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit/store"
	"github.com/vyrodovalexey/avalimit/internal/util"
)

// 2023-11-14T22:13:20Z, twenty seconds into a minute.
var testEpoch = time.Unix(1_700_000_000, 0)

// settableClock is a clock tests can move, safe for concurrent use.
type settableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *settableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *settableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type limiterFixture struct {
	mr      *miniredis.Miniredis
	clock   *settableClock
	limiter *ratelimit.Limiter
	handler http.Handler
}

func newLimiterFixture(t *testing.T, mode ratelimit.FailureMode) *limiterFixture {
	t.Helper()

	mr := miniredis.RunT(t)

	storeCfg := store.DefaultRedisConfig()
	storeCfg.Address = mr.Addr()
	storeCfg.MinIdleConns = 0
	storeCfg.DialTimeout = 200 * time.Millisecond
	s := store.NewRedisStore(storeCfg)
	t.Cleanup(func() { _ = s.Close() })

	cfg := ratelimit.DefaultConfig()
	cfg.Routes = []ratelimit.Policy{
		{Name: "/api/auth/login", RequestsPerMinute: 5, RequestsPerHour: 20},
	}
	cfg.FailureMode = mode
	cfg.StoreTimeout = time.Second

	clock := &settableClock{now: testEpoch}
	limiter, err := ratelimit.New(s, cfg, ratelimit.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &limiterFixture{
		mr:      mr,
		clock:   clock,
		limiter: limiter,
		handler: RateLimit(limiter, observability.NopLogger())(ok),
	}
}

func (f *limiterFixture) do(path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRateLimit_LoginPolicy(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailOpen)

	for i := 1; i <= 5; i++ {
		rec := f.do("/api/auth/login", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)

		assert.Equal(t, "5", rec.Header().Get(HeaderLimitMinute))
		assert.Equal(t, strconv.Itoa(5-i), rec.Header().Get(HeaderRemainingMinute))
		assert.Equal(t, "1700000040", rec.Header().Get(HeaderResetMinute))
		assert.Equal(t, "20", rec.Header().Get(HeaderLimitHour))
		assert.Equal(t, strconv.Itoa(20-i), rec.Header().Get(HeaderRemainingHour))
		assert.Equal(t, "1700002800", rec.Header().Get(HeaderResetHour))
	}

	rec := f.do("/api/auth/login", "10.0.0.1:5000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	assert.Equal(t, "40", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemainingMinute))
	assert.Equal(t, "14", rec.Header().Get(HeaderRemainingHour))

	body := decodeBody(t, rec)
	assert.Equal(t, "Rate limit exceeded", body["detail"])
	assert.Equal(t, "Too many requests. Please try again later.", body["message"])
	assert.Equal(t, float64(40), body["retry_after"])
}

func TestRateLimit_MinuteBoundaryResets(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailOpen)

	for i := 0; i < 6; i++ {
		f.do("/api/auth/login", "10.0.0.1:5000")
	}

	f.clock.Advance(40 * time.Second)

	rec := f.do("/api/auth/login", "10.0.0.1:5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get(HeaderRemainingMinute))
	assert.Equal(t, "13", rec.Header().Get(HeaderRemainingHour), "hour window keeps counting")
}

func TestRateLimit_DistinctClientsConcurrent(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailOpen)

	var wg sync.WaitGroup
	codes := make(map[string][]int)
	var mu sync.Mutex

	for _, addr := range []string{"10.0.0.1:5000", "10.0.0.2:5000"} {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				rec := f.do("/api/auth/login", addr)
				mu.Lock()
				codes[addr] = append(codes[addr], rec.Code)
				mu.Unlock()
			}(addr)
		}
	}
	wg.Wait()

	for addr, got := range codes {
		for _, code := range got {
			assert.Equal(t, http.StatusOK, code, addr)
		}
	}
}

func TestRateLimit_ExemptPath(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailOpen)

	for i := 0; i < 100; i++ {
		rec := f.do("/health", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(HeaderLimitMinute))
		assert.Empty(t, rec.Header().Get(HeaderRetryAfter))
	}

	assert.Empty(t, f.mr.Keys(), "exempt requests are never counted")
}

func TestRateLimit_StoreDownFailOpen(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailOpen)

	f.mr.SetError("LOADING Redis is loading the dataset in memory")

	for i := 0; i < 10; i++ {
		rec := f.do("/api/auth/login", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(HeaderLimitMinute), "uncounted responses carry no headers")
	}
	assert.Equal(t, ratelimit.StateBypass, f.limiter.State())

	f.mr.SetError("")

	rec := f.do("/api/auth/login", "10.0.0.1:5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get(HeaderRemainingMinute), "enforcement resumes on the next request")
	assert.Equal(t, ratelimit.StateEnabled, f.limiter.State())
}

func TestRateLimit_StoreDownFailClosed(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailClosed)

	f.mr.SetError("LOADING Redis is loading the dataset in memory")

	rec := f.do("/api/auth/login", "10.0.0.1:5000")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderRetryAfter))
	assert.Empty(t, rec.Header().Get(HeaderLimitMinute))

	body := decodeBody(t, rec)
	assert.Equal(t, "Rate limiting unavailable", body["detail"])
	assert.Equal(t, float64(1), body["retry_after"])

	rec = f.do("/health", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, rec.Code, "exempt paths bypass fail-closed")
}

func TestRateLimit_StoreDownFailClosedLogsOffline(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailClosed)
	f.mr.SetError("LOADING Redis is loading the dataset in memory")

	core, logs := observer.New(zapcore.DebugLevel)
	handler := RateLimit(f.limiter, observability.NewLoggerFromZap(zap.New(core)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	entries := logs.FilterMessage("request rejected while rate limiting is unavailable").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Contains(t, fields["error"], util.ErrLimiterOffline.Error())
	assert.Contains(t, fields["error"], "/api/auth/login")
	assert.Equal(t, int64(1), fields["retry_after"])
}

func TestRateLimit_StoreDownFailMemory(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, ratelimit.FailMemory)

	f.mr.SetError("LOADING Redis is loading the dataset in memory")

	for i := 1; i <= 5; i++ {
		rec := f.do("/api/auth/login", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, strconv.Itoa(5-i), rec.Header().Get(HeaderRemainingMinute))
	}

	rec := f.do("/api/auth/login", "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit_PolicyNotFound(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))

	called := false
	handler := RateLimit(&ratelimit.Limiter{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anything", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeBody(t, rec)["detail"])
	assert.Equal(t, 1, logs.FilterMessage("rate limit evaluation failed").Len())
}

func TestPassThrough(t *testing.T) {
	t.Parallel()

	handler := PassThrough()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderLimitMinute))
}

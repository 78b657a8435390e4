package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	logctx "github.com/pribylovaa/account-service/internal/pkg/log"
)

// capHandler — тестовый slog.Handler: копит записи в общий sink,
// производные через With() логгеры пишут туда же.
type capHandler struct {
	base []slog.Attr
	sink *capSink
}

type capSink struct {
	mu      sync.Mutex
	records []capRecord
}

type capRecord struct {
	msg   string
	level slog.Level
	attrs map[string]any
}

func newCap() *capHandler { return &capHandler{sink: &capSink{}} }

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}

	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.sink.mu.Lock()
	h.sink.records = append(h.sink.records, capRecord{msg: r.Message, level: r.Level, attrs: out})
	h.sink.mu.Unlock()

	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capHandler{base: append(append([]slog.Attr{}, h.base...), attrs...), sink: h.sink}
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func (h *capHandler) records() []capRecord {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]capRecord(nil), h.sink.records...)
}

func (h *capHandler) last(t *testing.T) capRecord {
	t.Helper()
	recs := h.records()
	require.NotEmpty(t, recs)
	return recs[len(recs)-1]
}

func makeReq(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type errEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
	RequestID  string `json:"requestId"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-begin")
				next.ServeHTTP(w, r)
				order = append(order, name+"-end")
			})
		}
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	Chain(final, mw("m1"), mw("m2")).ServeHTTP(rr, makeReq(http.MethodGet, "/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	t.Parallel()

	var seenHeader, seenCtx string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get(HeaderRequestID)
		seenCtx = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq(http.MethodGet, "/rid"))

	id := rr.Header().Get(HeaderRequestID)
	require.Len(t, id, 36)
	require.Equal(t, id, seenHeader)
	require.Equal(t, id, seenCtx)
}

func TestRequestID_UseExisting(t *testing.T) {
	t.Parallel()

	var seen string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	})

	req := makeReq(http.MethodGet, "/rid")
	req.Header.Set(HeaderRequestID, "given-id")
	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, "given-id", rr.Header().Get(HeaderRequestID))
	require.Equal(t, "given-id", seen)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	t.Parallel()

	var hasDeadline bool
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t"))
	require.True(t, hasDeadline)

	Chain(h, Timeout(0)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t"))
	require.False(t, hasDeadline)
}

func TestTimeout_SilentHandler_Gets504Envelope(t *testing.T) {
	t.Parallel()

	h := newCap()
	slow := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	rr := httptest.NewRecorder()
	Chain(slow, RequestID(), Logging(slog.New(h)), Timeout(10*time.Millisecond)).
		ServeHTTP(rr, makeReq(http.MethodGet, "/slow"))

	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	env := decodeErr(t, rr)
	require.Equal(t, http.StatusGatewayTimeout, env.StatusCode)
	require.Equal(t, "request timeout", env.Message)
	require.NotEmpty(t, env.RequestID)

	var timedOut bool
	for _, rec := range h.records() {
		if rec.msg == "request_timeout" {
			timedOut = true
			require.Equal(t, "/slow", rec.attrs["path"])
		}
	}
	require.True(t, timedOut)
	require.EqualValues(t, http.StatusGatewayTimeout, h.last(t).attrs["status"])
}

func TestTimeout_WrittenResponseKept(t *testing.T) {
	t.Parallel()

	late := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rr := httptest.NewRecorder()
	Chain(late, Timeout(10*time.Millisecond)).ServeHTTP(rr, makeReq(http.MethodGet, "/late"))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Empty(t, rr.Body.String())
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	t.Parallel()

	var childDL time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	Chain(h, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t").WithContext(parent))

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := httptest.NewRecorder()
	Chain(h, RequestID(), Recover()).ServeHTTP(rr, makeReq(http.MethodGet, "/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decodeErr(t, rr)
	require.Equal(t, 500, env.StatusCode)
	require.Equal(t, "internal error", env.Message)
	require.False(t, env.Success)
	require.NotEmpty(t, env.RequestID)
}

func TestLogging_WritesRecordWithRequestID(t *testing.T) {
	t.Parallel()

	h := newCap()
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logctx.From(r.Context()).Info("inside")
		_, _ = w.Write([]byte("0123456789"))
	})

	req := makeReq(http.MethodGet, "/log")
	req.Header.Set(HeaderRequestID, "rid-456")
	rr := httptest.NewRecorder()
	Chain(final, RequestID(), Logging(slog.New(h))).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	recs := h.records()
	require.Len(t, recs, 2)

	inner := recs[0]
	require.Equal(t, "inside", inner.msg)
	require.Equal(t, "rid-456", inner.attrs["request_id"])

	rec := h.last(t)
	require.Equal(t, "http_request", rec.msg)
	require.Equal(t, slog.LevelInfo, rec.level)
	require.Equal(t, http.MethodGet, rec.attrs["method"])
	require.Equal(t, "/log", rec.attrs["path"])
	require.EqualValues(t, http.StatusOK, rec.attrs["status"])
	require.EqualValues(t, 10, rec.attrs["bytes"])
	require.Equal(t, "rid-456", rec.attrs["request_id"])
}

func TestLogging_ServerErrorsAtErrorLevel(t *testing.T) {
	t.Parallel()

	h := newCap()
	final := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	Chain(final, Logging(slog.New(h))).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/x"))
	require.Equal(t, slog.LevelError, h.last(t).level)
}

func TestStatusWriter_DefaultsTo200(t *testing.T) {
	t.Parallel()

	sw := newStatusWriter(httptest.NewRecorder())
	require.Equal(t, http.StatusOK, sw.Status())

	_, _ = sw.Write([]byte("abcd"))
	require.Equal(t, http.StatusOK, sw.status)
	require.Equal(t, 4, sw.count)
}

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyAccess(token string) (string, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}

	return "", errors.New("bad token")
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	v := fakeVerifier{"good": "user-1"}

	var seen string
	protected := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}), Authenticate(v))

	t.Run("cookie", func(t *testing.T) {
		req := makeReq(http.MethodGet, "/me")
		req.AddCookie(&http.Cookie{Name: CookieAccessToken, Value: "good"})
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "user-1", seen)
	})

	t.Run("bearer", func(t *testing.T) {
		req := makeReq(http.MethodGet, "/me")
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, makeReq(http.MethodGet, "/me"))

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "unauthorized request", decodeErr(t, rr).Message)
	})

	t.Run("invalid", func(t *testing.T) {
		req := makeReq(http.MethodGet, "/me")
		req.Header.Set("Authorization", "Bearer forged")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "invalid access token", decodeErr(t, rr).Message)
	})

	t.Run("basic_scheme_ignored", func(t *testing.T) {
		req := makeReq(http.MethodGet, "/me")
		req.Header.Set("Authorization", "Basic Z29vZA==")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRateLimit_PerIP(t *testing.T) {
	t.Parallel()

	l := NewIPRateLimiter(60, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	h := Chain(okHandler(), RateLimit(l))

	do := func(ip string) *httptest.ResponseRecorder {
		req := makeReq(http.MethodPost, "/login")
		req.RemoteAddr = ip + ":5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	rr := do("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
	require.Equal(t, "too many requests", decodeErr(t, rr).Message)

	// Другой IP не затронут.
	require.Equal(t, http.StatusOK, do("10.0.0.2").Code)

	// Через секунду токен восстанавливается.
	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)
}

func TestRateLimit_EvictsIdleVisitors(t *testing.T) {
	t.Parallel()

	l := NewIPRateLimiter(60, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	now = now.Add(idleTTL + time.Minute)
	require.True(t, l.Allow("b"))

	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotContains(t, l.visitors, "a")
	require.Contains(t, l.visitors, "b")
}

func TestRateLimit_Disabled(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewIPRateLimiter(0, 10))

	h := Chain(okHandler(), RateLimit(nil))
	for i := 0; i < 100; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, makeReq(http.MethodPost, "/login"))
		require.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/items/"+id))
	}

	require.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/items/{id}", "202")))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))

	var nilMetrics *Metrics
	rr := httptest.NewRecorder()
	Chain(okHandler(), nilMetrics.Middleware()).ServeHTTP(rr, makeReq(http.MethodGet, "/"))
	require.Equal(t, http.StatusOK, rr.Code)
}

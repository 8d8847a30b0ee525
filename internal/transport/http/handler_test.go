package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/geotrack/internal/auth"
	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/pipeline"
)

type fakeSessions struct {
	mu       sync.Mutex
	samples  map[string][]domain.PositionSample
	acks     []string
	logins   map[string]string
	ended    map[string]bool
	full     bool
	ackError error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		samples: map[string][]domain.PositionSample{},
		logins:  map[string]string{},
		ended:   map[string]bool{"dev-1": false},
	}
}

func (f *fakeSessions) Submit(deviceID string, p domain.PositionSample) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.samples[deviceID] = append(f.samples[deviceID], p)
	return true
}

func (f *fakeSessions) Acknowledge(_ context.Context, deviceID string) error {
	f.acks = append(f.acks, deviceID)
	return f.ackError
}

func (f *fakeSessions) ChangeLogin(_ context.Context, deviceID, loginID string) error {
	f.logins[deviceID] = loginID
	return nil
}

func (f *fakeSessions) End(_ context.Context, deviceID string) (bool, error) {
	_, ok := f.ended[deviceID]
	delete(f.ended, deviceID)
	return ok, nil
}

type staticKeys map[string]string

func (k staticKeys) GetAPIKey(_ context.Context, apiKey string) (string, error) {
	return k[apiKey], nil
}

func newTestHandler(sessions Sessions, ratePerSecond int) http.Handler {
	a := auth.NewAuthenticator(&config.Config{ValidAPIKeys: []string{"master"}, AuthCacheTTLSeconds: 60},
		staticKeys{"dev-1-key": "dev-1"})
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return NewHandler(sessions, NewAuthMiddleware(a), NewRateLimiter(ratePerSecond), events, map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	}).Routes()
}

func do(t *testing.T, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitPositions(t *testing.T) {
	sessions := newFakeSessions()
	h := newTestHandler(sessions, 0)

	rec := do(t, h, http.MethodPost, "/v1/devices/dev-1/positions", "dev-1-key",
		`{"latitude":1,"longitude":2,"speed":3,"accuracy":4,"captured_at":"2024-03-01T12:00:00Z"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":1,"dropped":0}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/devices/dev-1/positions", "master",
		`[{"latitude":1,"longitude":2},{"latitude":3,"longitude":4}]`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, sessions.samples["dev-1"], 3)
	assert.Equal(t, 3.0, sessions.samples["dev-1"][0].Speed)
	assert.False(t, sessions.samples["dev-1"][1].CapturedAt.IsZero(), "missing capture time is stamped")

	sessions.full = true
	rec = do(t, h, http.MethodPost, "/v1/devices/dev-1/positions", "master", `{"latitude":1}`)
	assert.JSONEq(t, `{"accepted":0,"dropped":1}`, rec.Body.String())
}

func TestSubmitPositions_BadPayload(t *testing.T) {
	h := newTestHandler(newFakeSessions(), 0)

	for _, body := range []string{"", "not json", `{"latitude":"north"}`} {
		rec := do(t, h, http.MethodPost, "/v1/devices/dev-1/positions", "master", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestAuth(t *testing.T) {
	h := newTestHandler(newFakeSessions(), 0)

	tests := []struct {
		name string
		path string
		key  string
		code int
	}{
		{"missing key", "/v1/devices/dev-1/ack", "", http.StatusUnauthorized},
		{"unknown key", "/v1/devices/dev-1/ack", "bogus", http.StatusUnauthorized},
		{"other device", "/v1/devices/dev-2/ack", "dev-1-key", http.StatusUnauthorized},
		{"own device", "/v1/devices/dev-1/ack", "dev-1-key", http.StatusNoContent},
		{"static key", "/v1/devices/dev-2/ack", "master", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.key, "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestEventsRouteRequiresKey(t *testing.T) {
	h := newTestHandler(newFakeSessions(), 0)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/events/ws", "", "").Code)
	assert.Equal(t, http.StatusTeapot, do(t, h, http.MethodGet, "/v1/events/ws", "master", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/events/ws?device=dev-2", "dev-1-key", "").Code)
	assert.Equal(t, http.StatusTeapot, do(t, h, http.MethodGet, "/v1/events/ws?device=dev-1", "dev-1-key", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/events/ws", "dev-1-key", "").Code,
		"a device key cannot subscribe to the whole fleet")
}

func TestLoginAckAndEnd(t *testing.T) {
	sessions := newFakeSessions()
	h := newTestHandler(sessions, 0)

	rec := do(t, h, http.MethodPut, "/v1/devices/dev-1/login", "master", `{"login_id":"driver-7"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "driver-7", sessions.logins["dev-1"])

	rec = do(t, h, http.MethodPut, "/v1/devices/dev-1/login", "master", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sessions.ackError = pipeline.ErrSessionEnded
	rec = do(t, h, http.MethodPost, "/v1/devices/dev-1/ack", "master", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/devices/dev-1/session", "master", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/devices/dev-1/session", "master", "").Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(newFakeSessions(), 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodPost, "/v1/devices/dev-1/positions", "master", `{"latitude":1}`).Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)

	other := do(t, h, http.MethodPost, "/v1/devices/dev-2/positions", "master", `{"latitude":1}`)
	assert.Equal(t, http.StatusAccepted, other.Code, "limits are per device")
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestHandler(newFakeSessions(), 0)

	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"redis":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geotrack_samples_received_total")
}

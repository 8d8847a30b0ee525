package http

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"fleet-monitor/geotrack/internal/auth"
	"fleet-monitor/geotrack/internal/metrics"
)

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Wrap rejects requests without a key valid for the {id} device in the path,
// or for the "device" query parameter. Requests naming no device need a static
// key.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		deviceID := chi.URLParam(r, "id")
		if deviceID == "" {
			deviceID = r.URL.Query().Get("device")
		}
		if !m.auth.Authorize(r.Context(), apiKey, deviceID) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter caps the sample rate of each device with a token bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows perSecond requests per device; 0 disables limiting.
func NewRateLimiter(perSecond int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    max(perSecond, 1),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) limiter(deviceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[deviceID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[deviceID] = lim
	}
	return lim
}

func (l *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.limit > 0 && !l.limiter(chi.URLParam(r, "id")).Allow() {
			metrics.SamplesDropped.Add(1)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

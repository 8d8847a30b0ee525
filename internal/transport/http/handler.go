package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/metrics"
	"fleet-monitor/geotrack/internal/pipeline"
)

// Sessions is the part of the session manager the HTTP API drives.
type Sessions interface {
	Submit(deviceID string, p domain.PositionSample) bool
	Acknowledge(ctx context.Context, deviceID string) error
	ChangeLogin(ctx context.Context, deviceID, loginID string) error
	End(ctx context.Context, deviceID string) (bool, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	sessions Sessions
	auth     *AuthMiddleware
	limiter  *RateLimiter
	events   http.Handler
	health   map[string]HealthCheck
}

// NewHandler wires the routes. events serves the live event stream and may be
// nil.
func NewHandler(
	sessions Sessions,
	auth *AuthMiddleware,
	limiter *RateLimiter,
	events http.Handler,
	health map[string]HealthCheck,
) *Handler {
	return &Handler{
		sessions: sessions,
		auth:     auth,
		limiter:  limiter,
		events:   events,
		health:   health,
	}
}

const maxBodyBytes = 1 << 20

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.healthz)
	r.Get("/metrics", metrics.HandleMetrics)

	// The auth middleware sits inside the device route so that {id} is
	// resolved when it runs.
	r.Route("/v1/devices/{id}", func(r chi.Router) {
		r.Use(h.auth.Wrap)
		r.With(h.limiter.Wrap).Post("/positions", h.submitPositions)
		r.Post("/ack", h.acknowledge)
		r.Put("/login", h.changeLogin)
		r.Delete("/session", h.endSession)
	})

	if h.events != nil {
		r.With(h.auth.Wrap).Handle("/v1/events/ws", h.events)
	}

	return r
}

type submitResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// decodeSamples accepts a single sample object or an array of them.
func decodeSamples(body []byte) ([]domain.PositionSample, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var samples []domain.PositionSample
		if err := json.Unmarshal(body, &samples); err != nil {
			return nil, err
		}
		return samples, nil
	}
	var p domain.PositionSample
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return []domain.PositionSample{p}, nil
}

func (h *Handler) submitPositions(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	samples, err := decodeSamples(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position payload: "+err.Error())
		return
	}

	var resp submitResponse
	for _, p := range samples {
		if p.CapturedAt.IsZero() {
			p.CapturedAt = time.Now().UTC()
		}
		if h.sessions.Submit(deviceID, p) {
			resp.Accepted++
		} else {
			resp.Dropped++
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Acknowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	LoginID string `json:"login_id"`
}

func (h *Handler) changeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid login payload")
		return
	}
	if err := h.sessions.ChangeLogin(r.Context(), chi.URLParam(r, "id"), req.LoginID); err != nil {
		h.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	ended, err := h.sessions.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sessionError(w, err)
		return
	}
	if !ended {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrSessionEnded) {
		writeError(w, http.StatusConflict, "session ended")
		return
	}
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

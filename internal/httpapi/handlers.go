package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"shalomjobs.org/internal/auth"
	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/messaging"
	"shalomjobs.org/internal/obs"
	"shalomjobs.org/internal/seclog"
)

const serviceName = "shalom-api"

// ReadyProbe: простая проверка готовности (ping хранилища).
type ReadyProbe struct {
	Store kv.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return kv.Ping(ctx, rp.Store)
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth     *auth.Service
	messages *messaging.Service
	seclog   *seclog.Log

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(rp ReadyProbe, version string, svc *auth.Service, msgs *messaging.Service, log *seclog.Log, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       svc,
		messages:   msgs,
		seclog:     log,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("GET /v1/auth/session", a.handleSession)

	a.mux.HandleFunc("GET /v1/conversations", a.handleListConversations)
	a.mux.HandleFunc("POST /v1/conversations/{id}/messages", a.handleSendMessage)
	a.mux.HandleFunc("POST /v1/conversations/{id}/read", a.handleMarkRead)

	admin := RequireRole(auth.RoleAdmin)
	a.mux.Handle("GET /v1/admin/users", admin(http.HandlerFunc(a.handleAdminUsers)))
	a.mux.Handle("DELETE /v1/admin/users/{id}", admin(http.HandlerFunc(a.handleAdminDeleteUser)))
	a.mux.Handle("POST /v1/admin/users/{id}/unlock", admin(http.HandlerFunc(a.handleAdminUnlock)))
	a.mux.Handle("POST /v1/admin/users/{id}/lock", admin(http.HandlerFunc(a.handleAdminLock)))
	a.mux.Handle("PUT /v1/admin/users/{id}/security-level", admin(http.HandlerFunc(a.handleAdminSecurityLevel)))
	a.mux.Handle("GET /v1/admin/security-logs", admin(http.HandlerFunc(a.handleAdminSecurityLogs)))
	a.mux.Handle("GET /v1/admin/conversations", admin(http.HandlerFunc(a.handleAdminInbox)))
	a.mux.Handle("POST /v1/admin/conversations/{userId}/{id}/messages", admin(http.HandlerFunc(a.handleAdminReply)))

	// корень: 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler возвращает http.Handler со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

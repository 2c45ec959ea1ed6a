// Package api serves the query boundary over HTTP: latest samples, dense
// series, summaries and a server-sent live feed.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/metrics"
	"github.com/xtxerr/sensorlog/internal/storage/query"
)

var log = logging.Component("api")

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Config holds API configuration.
type Config struct {
	// StreamInterval is the live feed emission period. Zero uses the query
	// service default.
	StreamInterval time.Duration

	// MaxStreamsPerClient caps concurrent live feeds per client IP.
	// Zero means unlimited.
	MaxStreamsPerClient int

	// Metrics instruments every route and serves /metrics. Optional.
	Metrics *metrics.Metrics

	// Health backs GET /health. Nil always reports healthy.
	Health func(ctx context.Context) error
}

// API routes HTTP requests to a query service.
type API struct {
	svc     *query.Service
	cfg     Config
	streams *StreamLimiter
	router  *mux.Router
}

// New creates an API over svc. A nil cfg uses zero values.
func New(svc *query.Service, cfg *Config) *API {
	if cfg == nil {
		cfg = &Config{}
	}
	a := &API{
		svc:     svc,
		cfg:     *cfg,
		streams: NewStreamLimiter(cfg.MaxStreamsPerClient),
		router:  mux.NewRouter(),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	m := a.cfg.Metrics

	sub := a.router.PathPrefix("/api").Subrouter()
	sub.Handle("/last", a.jsonRoute("/api/last", a.handleLast)).Methods(http.MethodGet)
	sub.Handle("/series", a.jsonRoute("/api/series", a.handleSeries)).Methods(http.MethodGet)
	sub.Handle("/summary", a.jsonRoute("/api/summary", a.handleSummary)).Methods(http.MethodGet)
	sub.Handle("/stream", m.WrapHandler("/api/stream", http.HandlerFunc(a.handleStream))).Methods(http.MethodGet)

	a.router.Handle("/", a.jsonRoute("/", a.handleIndex)).Methods(http.MethodGet)
	a.router.Handle("/health", m.WrapHandler("/health", http.HandlerFunc(a.handleHealth))).Methods(http.MethodGet)
	if m != nil {
		a.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
}

// Handler returns the router wrapped with request ids, panic recovery and
// access logging.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, accessLog)
	return requestID(h)
}

// =============================================================================
// Middleware
// =============================================================================

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	logging.WithContext(p.Request.Context()).Info("request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
		"remote", p.Request.RemoteAddr)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error("panic in handler", "panic", v)
}

// =============================================================================
// Responses
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
}

type handlerFunc func(r *http.Request) (any, error)

// jsonRoute adapts fn into a compressed, instrumented JSON endpoint.
func (a *API) jsonRoute(route string, fn handlerFunc) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
	return a.cfg.Metrics.WrapHandler(route, gzhttp.GzipHandler(h))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.ErrorToStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("query failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

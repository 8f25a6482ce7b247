// Package httpapi serves the synchronized session state to local views: a JSON
// API with OpenAPI docs, an SSE stream of changes, metrics and the board page.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ankittk/agentdeck/internal/session"
	"github.com/ankittk/agentdeck/internal/ui"
	"github.com/ankittk/agentdeck/pkg/models"
)

// BasePath prefixes every JSON operation.
const BasePath = "/api"

var humaOnce sync.Once

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH.
func bodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				limitBody(w, r, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware sets CORS headers so a board served from another origin can call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the views server.
type ServerOptions struct {
	Session        *session.Session
	Addr           string
	APIKey         string       // if set, require X-API-Key header or query api_key
	JWTSecret      string       // if set, a valid HS256 bearer token is also accepted
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// App holds the HTTP server, SSE hub and session.
type App struct {
	Server  *http.Server
	Hub     *SSEHub
	Session *session.Session
	API     huma.API

	log *slog.Logger
}

// NewApp builds the router and registers every route. Call Pump to start
// forwarding session changes to SSE subscribers.
func NewApp(opts ServerOptions) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = models.DefaultMaxRequestBodyBytes
	}
	hub := NewSSEHub()
	app := &App{Hub: hub, Session: opts.Session, log: opts.Logger}

	humaOnce.Do(func() {
		huma.DefaultArrayNullable = false
		huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
			return newAPIError(status, msg, errs...)
		}
	})

	router := chi.NewRouter()
	router.Use(requestLogMiddleware(opts.Logger))
	router.Use(corsMiddleware)
	router.Use(bodyLimitMiddleware(opts.MaxBodyBytes))
	if opts.APIKey != "" || opts.JWTSecret != "" {
		router.Use(authMiddleware(opts.APIKey, opts.JWTSecret))
	}

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok":    true,
			"state": opts.Session.State().String(),
		})
	})
	if opts.MetricsHandler != nil {
		router.Handle("/metrics", opts.MetricsHandler)
	}
	router.Get("/stream", hub.Handler())

	hcfg := huma.DefaultConfig("agentdeck views API", "0.1.0")
	hcfg.OpenAPIPath = BasePath + "/openapi"
	hcfg.DocsPath = BasePath + "/docs"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, BasePath)
	app.API = api

	registerStatus(group, opts.Session)
	registerBoard(group, opts.Session)
	registerTasks(group, opts.Session)
	registerDirectory(group, opts.Session)
	registerLedger(group, opts.Session)
	registerTranscripts(group, opts.Session)
	registerNotices(group, opts.Session)

	router.Handle("/*", ui.Handler())

	var handler http.Handler = router
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "agentdeck.views")
	}
	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)
			if req.URL.Path == "/stream" || strings.HasPrefix(req.URL.Path, "/assets/") {
				return
			}
			log.Debug("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

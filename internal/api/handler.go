package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/journal"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/pipeline"
	"github.com/sqlscribe/sqlscribe/internal/schema"
)

const maxRequestBodyBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Answer, error)
}

type SchemaRegistry interface {
	Current() schema.Snapshot
	Refresh(ctx context.Context) (schema.Snapshot, error)
	Discover(ctx context.Context) ([]schema.TableDescription, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type JournalReader interface {
	Day(ctx context.Context, day time.Time, limit int) ([]journal.Entry, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Asker
	Schema            SchemaRegistry
	Database          Pinger
	DatabaseName      string
	Completion        Pinger
	Journal           JournalReader
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(cfg, deps, w, r)
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /test", func(w http.ResponseWriter, r *http.Request) {
		handleTest(deps, w, r)
	})

	protected := http.NewServeMux()
	protected.HandleFunc("POST /ai", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("GET /schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	protected.HandleFunc("GET /discover-schema", func(w http.ResponseWriter, r *http.Request) {
		handleDiscoverSchema(deps, w, r)
	})
	protected.HandleFunc("POST /refresh-schema", func(w http.ResponseWriter, r *http.Request) {
		handleRefreshSchema(deps, w, r)
	})
	protected.HandleFunc("GET /journal", func(w http.ResponseWriter, r *http.Request) {
		handleJournal(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /ai", protectedHandler)
	mux.Handle("GET /schema", protectedHandler)
	mux.Handle("GET /discover-schema", protectedHandler)
	mux.Handle("POST /refresh-schema", protectedHandler)
	mux.Handle("GET /journal", protectedHandler)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckPing reports a dependency as not ready when its ping fails.
func CheckPing(name string, pinger Pinger) ReadinessCheck {
	return func(ctx context.Context) error {
		if pinger == nil {
			return errors.New(name + " is not configured")
		}
		if err := pinger.Ping(ctx); err != nil {
			return errors.New(name + " unreachable: " + err.Error())
		}
		return nil
	}
}

func CheckSchemaLoaded(source interface{ Current() schema.Snapshot }) ReadinessCheck {
	return func(_ context.Context) error {
		if source == nil || source.Current().Empty() {
			return errors.New("schema is not loaded")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	if err := auth.RequireRole(r.Context(), role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func dependencyTimeout(deps Dependencies) time.Duration {
	if deps.DependencyTimeout > 0 {
		return deps.DependencyTimeout
	}
	return 5 * time.Second
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/dialogue"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the clarification and execution entry point.
type Pipeline interface {
	ProcessQuery(ctx context.Context, req dialogue.Request) (dialogue.Response, error)
	Conversation(ctx context.Context, userID, sessionID, databaseID string) (dialogue.View, error)
}

type DatabaseLookup interface {
	GetDatabase(ctx context.Context, userID, databaseID string) (registry.DatabaseConnection, error)
	QueryStats(ctx context.Context, databaseID string, now time.Time) (registry.QueryStats, error)
}

type SchemaService interface {
	GetSchema(ctx context.Context, conn registry.DatabaseConnection) (schema.Snapshot, error)
	Evict(databaseID string)
}

// PoolCloser drops the connection pool held for a database.
type PoolCloser interface {
	Forget(databaseID string)
}

type ResultLoader interface {
	Load(ctx context.Context, conn registry.DatabaseConnection, resultID string) (archive.Record, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	Databases         DatabaseLookup
	Schemas           SchemaService
	// Pools, when set, is reset together with the schema cache.
	Pools PoolCloser
	// Results is nil when archiving is disabled.
	Results ResultLoader
	Now     func() time.Time
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/databases/{databaseId}/query", func(w http.ResponseWriter, r *http.Request) {
		handleProcessQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/databases/{databaseId}/sessions/{sessionId}/conversation", func(w http.ResponseWriter, r *http.Request) {
		handleConversation(deps, w, r)
	})
	protected.HandleFunc("GET /v1/databases/{databaseId}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleGetSchema(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/databases/{databaseId}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleEvictSchema(deps, w, r)
	})
	protected.HandleFunc("GET /v1/databases/{databaseId}/stats", func(w http.ResponseWriter, r *http.Request) {
		handleStats(deps, w, r)
	})
	protected.HandleFunc("GET /v1/databases/{databaseId}/results/{resultId}", func(w http.ResponseWriter, r *http.Request) {
		handleGetResult(deps, w, r)
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
	} else {
		protectedHandler = auth.HeaderIdentity()(protectedHandler)
	}
	mux.Handle("POST /v1/databases/{databaseId}/query", protectedHandler)
	mux.Handle("GET /v1/databases/{databaseId}/sessions/{sessionId}/conversation", protectedHandler)
	mux.Handle("GET /v1/databases/{databaseId}/schema", protectedHandler)
	mux.Handle("DELETE /v1/databases/{databaseId}/schema", protectedHandler)
	mux.Handle("GET /v1/databases/{databaseId}/stats", protectedHandler)
	mux.Handle("GET /v1/databases/{databaseId}/results/{resultId}", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func CheckRegistry(checker HealthChecker) ReadinessCheck {
	return func(ctx context.Context) error {
		if checker == nil {
			return errors.New("registry is not configured")
		}
		return checker.HealthCheck(ctx)
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func CheckArchive(pinger Pinger) ReadinessCheck {
	return func(ctx context.Context) error {
		if pinger == nil {
			return nil
		}
		return pinger.Ping(ctx)
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

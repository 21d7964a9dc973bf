package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/askdb/askdb/internal/dialogue"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
)

// writePipelineError maps the typed errors of the pipeline onto the error
// envelope. Failures of an external dependency are retryable.
func writePipelineError(r *http.Request, w http.ResponseWriter, err error, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	extra["details"] = err.Error()
	ctx := r.Context()

	var (
		connErr *schema.ConnectionError
		inspErr *schema.IntrospectionError
		genErr  *nl2sql.GenerationError
		execErr *query.ExecutionError
	)
	switch {
	case errors.Is(err, dialogue.ErrEmptyInput):
		writeError(ctx, w, http.StatusBadRequest, "TEXT_REQUIRED", "query text is required", false, nil)
	case errors.Is(err, registry.ErrNotFound):
		writeError(ctx, w, http.StatusForbidden, "DATABASE_FORBIDDEN", "database is not registered to this user", false, map[string]any{"database_id": r.PathValue("databaseId")})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", true, extra)
	case errors.As(err, &connErr):
		writeError(ctx, w, http.StatusBadGateway, "DATABASE_UNREACHABLE", "could not connect to the database", true, extra)
	case errors.As(err, &inspErr):
		writeError(ctx, w, http.StatusBadGateway, "INTROSPECTION_FAILED", "could not read the database schema", true, extra)
	case errors.As(err, &genErr):
		extra["kind"] = string(genErr.Kind)
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "query generation failed", true, extra)
	case errors.Is(err, query.ErrEmptyQuery):
		writeError(ctx, w, http.StatusUnprocessableEntity, "EMPTY_QUERY", "generated query was empty", false, extra)
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, "QUERY_EXECUTION_FAILED", "query execution failed", false, extra)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "request failed", true, extra)
	}
}

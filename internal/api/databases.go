package api

import (
	"errors"
	"net/http"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
)

type statsResponse struct {
	DatabaseID        string  `json:"database_id"`
	TotalQueries      int64   `json:"total_queries"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs int64   `json:"avg_response_time_ms"`
	LastQueriedAt     any     `json:"last_queried_at"`
	Frequency         []int64 `json:"frequency"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Databases == nil || deps.Schemas == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	conn, ok := lookupDatabase(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	snapshot, err := deps.Schemas.GetSchema(r.Context(), conn)
	if err != nil {
		writePipelineError(r, w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database_id":   conn.ID,
		"tables":        snapshot,
		"relationships": schema.InferRelationships(snapshot),
	})
}

func handleEvictSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Databases == nil || deps.Schemas == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	conn, ok := lookupDatabase(deps, w, r, auth.RoleSchemaAdmin)
	if !ok {
		return
	}
	deps.Schemas.Evict(conn.ID)
	if deps.Pools != nil {
		deps.Pools.Forget(conn.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Databases == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REGISTRY_NOT_CONFIGURED", "registry is not configured", false, nil)
		return
	}
	conn, ok := lookupDatabase(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	stats, err := deps.Databases.QueryStats(r.Context(), conn.ID, deps.Now())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "REGISTRY_ERROR", "failed to load query stats", true, map[string]any{"details": err.Error()})
		return
	}
	response := statsResponse{
		DatabaseID:        conn.ID,
		TotalQueries:      stats.TotalQueries,
		SuccessRate:       stats.SuccessRate,
		AvgResponseTimeMs: stats.AvgResponseTime.Milliseconds(),
		Frequency:         stats.Frequency[:],
	}
	if stats.LastQueriedAt != nil {
		response.LastQueriedAt = stats.LastQueriedAt.UTC()
	}
	writeJSON(w, http.StatusOK, response)
}

func handleGetResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Databases == nil || deps.Results == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "result archive is not enabled", false, nil)
		return
	}
	conn, ok := lookupDatabase(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	record, err := deps.Results.Load(r.Context(), conn, r.PathValue("resultId"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "RESULT_NOT_FOUND", "result was not found", false, map[string]any{"result_id": r.PathValue("resultId")})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_ERROR", "failed to load result", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func lookupDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request, role auth.Role) (registry.DatabaseConnection, bool) {
	userID, ok := requireUser(w, r, role)
	if !ok {
		return registry.DatabaseConnection{}, false
	}
	conn, err := deps.Databases.GetDatabase(r.Context(), userID, r.PathValue("databaseId"))
	if err != nil {
		writePipelineError(r, w, err, nil)
		return registry.DatabaseConnection{}, false
	}
	return conn, true
}

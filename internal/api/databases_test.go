package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
)

var shopSnapshot = schema.Snapshot{
	DatabaseID: "db-1",
	Tables: []schema.Table{
		{Name: "customers", Columns: []schema.Column{{Name: "id", DataType: "integer"}}},
		{Name: "orders", Columns: []schema.Column{{Name: "id", DataType: "integer"}, {Name: "customer_id", DataType: "integer"}}},
	},
}

func TestGetSchemaIncludesRelationships(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	h := NewHandler(cfg, Dependencies{Databases: newFakeDatabases(), Schemas: &fakeSchemas{snapshot: shopSnapshot}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodGet, "/v1/databases/db-1/schema", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	tables, _ := body["tables"].(map[string]any)
	if _, ok := tables["orders"]; !ok {
		t.Fatalf("tables = %v", body["tables"])
	}
	relationships, _ := body["relationships"].([]any)
	if len(relationships) != 1 {
		t.Fatalf("relationships = %v", body["relationships"])
	}
	rel, _ := relationships[0].(map[string]any)
	if rel["from"] != "customers.id" || rel["to"] != "orders.customer_id" {
		t.Fatalf("relationship = %v", rel)
	}
}

func TestGetSchemaSurfacesConnectionError(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	schemas := &fakeSchemas{err: &schema.ConnectionError{DatabaseID: "db-1", Err: errors.New("refused")}}
	h := NewHandler(cfg, Dependencies{Databases: newFakeDatabases(), Schemas: schemas})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodGet, "/v1/databases/db-1/schema", ""))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestEvictSchema(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	schemas := &fakeSchemas{}
	pools := &fakePools{}
	h := NewHandler(cfg, Dependencies{Databases: newFakeDatabases(), Schemas: schemas, Pools: pools})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodDelete, "/v1/databases/db-1/schema", ""))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(schemas.evicted) != 1 || schemas.evicted[0] != "db-1" {
		t.Fatalf("evicted = %v", schemas.evicted)
	}
	if len(pools.forgotten) != 1 || pools.forgotten[0] != "db-1" {
		t.Fatalf("forgotten pools = %v", pools.forgotten)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodDelete, "/v1/databases/db-2/schema", ""))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign database status = %d", rr.Code)
	}
	if len(schemas.evicted) != 1 || len(pools.forgotten) != 1 {
		t.Fatalf("evicted = %v, forgotten = %v", schemas.evicted, pools.forgotten)
	}
}

func TestStatsEndpoint(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	last := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	databases := newFakeDatabases()
	databases.stats = registry.QueryStats{
		TotalQueries:    4,
		SuccessRate:     75,
		AvgResponseTime: 120 * time.Millisecond,
		LastQueriedAt:   &last,
		Frequency:       [registry.FrequencyDays]int64{0, 0, 0, 1, 0, 1, 2},
	}
	h := NewHandler(cfg, Dependencies{Databases: databases})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodGet, "/v1/databases/db-1/stats", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["total_queries"] != float64(4) || body["success_rate"] != float64(75) || body["avg_response_time_ms"] != float64(120) {
		t.Fatalf("body = %v", body)
	}
	if body["last_queried_at"] != "2026-03-01T11:00:00Z" {
		t.Fatalf("last_queried_at = %v", body["last_queried_at"])
	}
	frequency, _ := body["frequency"].([]any)
	if len(frequency) != registry.FrequencyDays || frequency[6] != float64(2) {
		t.Fatalf("frequency = %v", body["frequency"])
	}
}

func TestGetResult(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	results := &fakeResults{records: map[string]archive.Record{
		"result-1": {ResultID: "result-1", DatabaseID: "db-1", SQL: "SELECT 1", Columns: []string{"x"}, Rows: [][]any{{1}}, RowCount: 1},
	}}
	h := NewHandler(cfg, Dependencies{Databases: newFakeDatabases(), Results: results})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodGet, "/v1/databases/db-1/results/result-1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["sql"] != "SELECT 1" || body["row_count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodGet, "/v1/databases/db-1/results/missing", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rr.Code)
	}
}

func TestGetResultWithoutArchive(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	h := NewHandler(cfg, Dependencies{Databases: newFakeDatabases()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newUserRequest(http.MethodGet, "/v1/databases/db-1/results/result-1", ""))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

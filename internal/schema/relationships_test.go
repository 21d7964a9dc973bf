package schema

import (
	"encoding/json"
	"testing"
)

func TestInferRelationshipsCustomerOrders(t *testing.T) {
	snapshot := Snapshot{Tables: []Table{
		{Name: "orders", Columns: []Column{{Name: "id"}, {Name: "customer_id"}, {Name: "total"}}},
		{Name: "customers", Columns: []Column{{Name: "id"}, {Name: "name"}}},
	}}

	rels := InferRelationships(snapshot)
	if len(rels) != 1 {
		t.Fatalf("len(rels) = %d, want 1: %+v", len(rels), rels)
	}
	if rels[0].From() != "customers.id" || rels[0].To() != "orders.customer_id" {
		t.Fatalf("relationship = %s -> %s", rels[0].From(), rels[0].To())
	}
}

func TestInferRelationshipsFirstMatchWinsPerPair(t *testing.T) {
	snapshot := Snapshot{Tables: []Table{
		{Name: "orders", Columns: []Column{{Name: "customer_id"}, {Name: "customers_id"}}},
		{Name: "customers", Columns: []Column{{Name: "id"}, {Name: "order_id"}}},
	}}

	rels := InferRelationships(snapshot)
	if len(rels) != 1 {
		t.Fatalf("len(rels) = %d, want 1: %+v", len(rels), rels)
	}
	if rels[0].SourceColumn != "customer_id" {
		t.Fatalf("SourceColumn = %q, want customer_id", rels[0].SourceColumn)
	}
	if _, ok := rels.Between("customers", "orders"); !ok {
		t.Fatal("expected relationship between customers and orders")
	}
}

func TestInferRelationshipsMatchesSingularAndExactNames(t *testing.T) {
	snapshot := Snapshot{Tables: []Table{
		{Name: "payments", Columns: []Column{{Name: "invoice_id"}, {Name: "status_id"}}},
		{Name: "invoice", Columns: []Column{{Name: "id"}}},
		{Name: "status", Columns: []Column{{Name: "id"}}},
		{Name: "users", Columns: []Column{{Name: "id"}, {Name: "user_id"}, {Name: "_id"}}},
	}}

	rels := InferRelationships(snapshot)
	if len(rels) != 2 {
		t.Fatalf("len(rels) = %d, want 2: %+v", len(rels), rels)
	}
	if _, ok := rels.Between("payments", "invoice"); !ok {
		t.Fatal("expected invoice relationship")
	}
	if rel, ok := rels.Between("status", "payments"); !ok || rel.TargetTable != "status" {
		t.Fatalf("status relationship = %+v, %v", rel, ok)
	}
}

func TestRelationshipsJSON(t *testing.T) {
	var empty Relationships
	body, err := json.Marshal(empty)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(body) != "[]" {
		t.Fatalf("empty = %s", body)
	}

	body, err = json.Marshal(Relationships{{TargetTable: "customers", TargetColumn: "id", SourceTable: "orders", SourceColumn: "customer_id"}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(body) != `[{"from":"customers.id","to":"orders.customer_id"}]` {
		t.Fatalf("body = %s", body)
	}
}

package schema

import (
	"encoding/json"
	"strings"
)

const foreignKeySuffix = "_id"

// Relationship links TargetTable.id to SourceTable.SourceColumn.
type Relationship struct {
	TargetTable  string
	TargetColumn string
	SourceTable  string
	SourceColumn string
}

func (r Relationship) From() string { return r.TargetTable + "." + r.TargetColumn }
func (r Relationship) To() string   { return r.SourceTable + "." + r.SourceColumn }

func (r Relationship) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		From string `json:"from"`
		To   string `json:"to"`
	}{From: r.From(), To: r.To()})
}

type Relationships []Relationship

func (rs Relationships) MarshalJSON() ([]byte, error) {
	if rs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Relationship(rs))
}

// Between reports the relationship recorded for the unordered pair {a, b}.
func (rs Relationships) Between(a, b string) (Relationship, bool) {
	want := pairKey(a, b)
	for _, rel := range rs {
		if pairKey(rel.TargetTable, rel.SourceTable) == want {
			return rel, true
		}
	}
	return Relationship{}, false
}

// InferRelationships derives links from the <table>_id naming convention. A
// column customer_id on orders matches a table named customer or customers.
// Only the first match for each unordered pair of tables is kept.
func InferRelationships(snapshot Snapshot) Relationships {
	var (
		out  Relationships
		seen = map[[2]string]struct{}{}
	)
	for _, source := range snapshot.Tables {
		for _, column := range source.Columns {
			if !strings.HasSuffix(column.Name, foreignKeySuffix) {
				continue
			}
			candidate := strings.TrimSuffix(column.Name, foreignKeySuffix)
			if candidate == "" {
				continue
			}
			for _, target := range snapshot.Tables {
				if target.Name == source.Name {
					continue
				}
				if candidate != target.Name && candidate != strings.TrimSuffix(target.Name, "s") {
					continue
				}
				key := pairKey(target.Name, source.Name)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, Relationship{
					TargetTable:  target.Name,
					TargetColumn: "id",
					SourceTable:  source.Name,
					SourceColumn: column.Name,
				})
			}
		}
	}
	return out
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

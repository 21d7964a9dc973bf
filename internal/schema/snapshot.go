package schema

import (
	"bytes"
	"encoding/json"
)

type Column struct {
	Name     string `json:"column_name"`
	DataType string `json:"data_type"`
}

type Table struct {
	Name    string
	Columns []Column
}

// Snapshot is the table and column metadata of one registered database, in
// catalog order. Snapshots are shared between sessions and must not be
// modified after they are built.
type Snapshot struct {
	DatabaseID string
	Tables     []Table
}

func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (s Snapshot) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

// MarshalJSON encodes the snapshot as {"table": [{column_name, data_type}]}
// keeping catalog order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, table := range s.Tables {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(table.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		columns := table.Columns
		if columns == nil {
			columns = []Column{}
		}
		encoded, err := json.Marshal(columns)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

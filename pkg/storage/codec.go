// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teradata-labs/rem/pkg/rem"
)

// EnvelopeColumns are the columns every entity table carries, in insert
// order, ahead of the kind-specific columns.
var EnvelopeColumns = []string{
	"id", "tenant_id", "user_id",
	"created_at", "updated_at", "deleted_at",
	"metadata", "tags", "graph_edges",
}

var envelopeTypes = map[string]string{
	"id":          "TEXT",
	"tenant_id":   "TEXT",
	"user_id":     "TEXT",
	"created_at":  "TIMESTAMPTZ",
	"updated_at":  "TIMESTAMPTZ",
	"deleted_at":  "TIMESTAMPTZ",
	"metadata":    "JSONB",
	"tags":        "JSONB",
	"graph_edges": "JSONB",
}

// jsonbDefaults fill envelope JSONB columns that the entity left unset so
// the row never carries SQL NULL where the schema default is a container.
var jsonbDefaults = map[string]string{
	"metadata":    "{}",
	"tags":        "[]",
	"graph_edges": "[]",
}

// EncodeRow flattens an entity into parallel column and value slices for its
// table. Entity struct tags match column names, so the entity is marshaled
// once and each column is converted from its raw JSON per the declared SQL
// type. JSONB columns are passed as raw JSON bytes for the driver to encode.
func EncodeRow(desc *rem.EntityDescriptor, ent rem.Entity) ([]string, []interface{}, error) {
	raw, err := json.Marshal(ent)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s entity: %w", desc.Kind, err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("failed to flatten %s entity: %w", desc.Kind, err)
	}

	cols := make([]string, 0, len(EnvelopeColumns)+len(desc.Fields))
	vals := make([]interface{}, 0, cap(cols))

	for _, col := range EnvelopeColumns {
		v, err := convertColumn(col, envelopeTypes[col], fields[col])
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			if def, ok := jsonbDefaults[col]; ok {
				v = []byte(def)
			}
		}
		cols = append(cols, col)
		vals = append(vals, v)
	}

	for _, f := range desc.Fields {
		v, err := convertColumn(f.Name, f.SQLType, fields[f.Name])
		if err != nil {
			return nil, nil, err
		}
		if v == nil && !f.Nullable {
			switch f.SQLType {
			case "TEXT":
				v = ""
			case "BIGINT":
				v = int64(0)
			}
		}
		cols = append(cols, f.Name)
		vals = append(vals, v)
	}

	return cols, vals, nil
}

// convertColumn turns one raw JSON value into a driver-encodable Go value
// for the given SQL type. Absent or null values come back as nil.
func convertColumn(name, sqlType string, raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch sqlType {
	case "JSONB":
		return []byte(raw), nil
	case "TIMESTAMPTZ":
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("column %s: invalid timestamp %s: %w", name, raw, err)
		}
		return t, nil
	case "BIGINT":
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("column %s: invalid integer %s: %w", name, raw, err)
		}
		return n, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("column %s: invalid text %s: %w", name, raw, err)
		}
		return s, nil
	}
}

// DecodeEntity rebuilds a typed entity from a fetched row. JSONB columns
// arrive from the driver as []byte or as already-decoded values; both are
// folded back through JSON into the entity struct.
func DecodeEntity(desc *rem.EntityDescriptor, row map[string]interface{}) (rem.Entity, error) {
	normalized := make(map[string]interface{}, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok && looksLikeJSON(b) {
			normalized[k] = json.RawMessage(b)
			continue
		}
		normalized[k] = v
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal %s row: %w", desc.Kind, err)
	}

	ent := desc.New()
	if err := json.Unmarshal(raw, ent); err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", desc.Kind, err)
	}
	return ent, nil
}

func looksLikeJSON(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			return json.Valid(b)
		default:
			return false
		}
	}
	return false
}

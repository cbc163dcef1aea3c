package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"tunnel/pkg/changestream"
)

// WireRecord is the JSON form of a change record carried on Kafka topics
type WireRecord struct {
	Kind       string       `json:"kind"`
	Table      string       `json:"table,omitempty"`
	PrimaryKey []WireColumn `json:"primaryKey"`
	Columns    []WireColumn `json:"columns,omitempty"`
	Timestamp  int64        `json:"timestamp,omitempty"`
}

// WireColumn is a named value tagged with its column type name
type WireColumn struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// ParseWireRecord decodes one JSON wire record into a change record.
// Numbers are kept exact and binary values are expected as base64.
func ParseWireRecord(data []byte) (changestream.Record, error) {
	var w WireRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return changestream.Record{}, fmt.Errorf("failed to unmarshal wire record: %w", err)
	}

	if w.Kind == "" {
		return changestream.Record{}, fmt.Errorf("missing record kind")
	}
	if len(w.PrimaryKey) == 0 {
		return changestream.Record{}, fmt.Errorf("missing primary key")
	}

	return changestream.Record{
		Kind:       changestream.MutationKind(w.Kind),
		PrimaryKey: fromWire(w.PrimaryKey),
		Columns:    fromWire(w.Columns),
		Timestamp:  w.Timestamp,
	}, nil
}

// EncodeWireRecord is the inverse of ParseWireRecord
func EncodeWireRecord(table string, rec changestream.Record) ([]byte, error) {
	w := WireRecord{
		Kind:       string(rec.Kind),
		Table:      table,
		PrimaryKey: toWire(rec.PrimaryKey),
		Columns:    toWire(rec.Columns),
		Timestamp:  rec.Timestamp,
	}
	return json.Marshal(w)
}

func fromWire(cols []WireColumn) []changestream.Column {
	out := make([]changestream.Column, 0, len(cols))
	for _, c := range cols {
		t := changestream.ParseColumnType(c.Type)
		raw := c.Value
		if t == changestream.TypeBinary {
			if s, ok := raw.(string); ok {
				if b, err := base64.StdEncoding.DecodeString(s); err == nil {
					raw = b
				}
			}
		}
		out = append(out, changestream.Col(c.Name, t, raw))
	}
	return out
}

func toWire(cols []changestream.Column) []WireColumn {
	out := make([]WireColumn, 0, len(cols))
	for _, c := range cols {
		out = append(out, WireColumn{
			Name:  c.Name,
			Type:  c.Value.Type.String(),
			Value: c.Value.Raw,
		})
	}
	return out
}

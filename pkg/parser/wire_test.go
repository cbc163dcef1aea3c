package parser

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnel/pkg/changestream"
)

func TestParseWireRecord(t *testing.T) {
	data := []byte(`{
		"kind": "PUT",
		"table": "game_events",
		"primaryKey": [
			{"name": "sessionId", "type": "STRING", "value": "s1"},
			{"name": "eventId", "type": "STRING", "value": "e1"}
		],
		"columns": [
			{"name": "eventData", "type": "STRING", "value": "{\"type\":\"score\"}"},
			{"name": "seq", "type": "INTEGER", "value": 9007199254740993},
			{"name": "blob", "type": "BINARY", "value": "aGk="},
			{"name": "at", "type": "DATETIME", "value": "2024-01-01"}
		],
		"timestamp": 1700000000000
	}`)

	rec, err := ParseWireRecord(data)
	require.NoError(t, err)
	assert.Equal(t, changestream.KindPut, rec.Kind)
	assert.Equal(t, int64(1700000000000), rec.Timestamp)

	pk := DecodePrimaryKey(rec.PrimaryKey)
	assert.Equal(t, "s1", pk["sessionId"])
	assert.Equal(t, "e1", pk["eventId"])

	cols := DecodeColumns(rec.Columns)
	assert.Equal(t, `{"type":"score"}`, cols["eventData"])
	assert.Equal(t, int64(9007199254740993), cols["seq"])
	assert.Equal(t, []byte("hi"), cols["blob"])
	assert.Equal(t, "2024-01-01", cols["at"])
}

func TestParseWireRecordErrors(t *testing.T) {
	_, err := ParseWireRecord([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseWireRecord([]byte(`{"primaryKey":[{"name":"sessionId","type":"STRING","value":"s"}]}`))
	assert.ErrorContains(t, err, "missing record kind")

	_, err = ParseWireRecord([]byte(`{"kind":"PUT"}`))
	assert.ErrorContains(t, err, "missing primary key")
}

func TestWireRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: decoded values survive encode then parse
	properties.Property("encoded records decode to the same values", prop.ForAll(
		func(sessionID, state string, version int64, live bool, blob []byte) bool {
			rec := changestream.Record{
				Kind:       changestream.KindPut,
				PrimaryKey: []changestream.Column{changestream.StringCol("sessionId", sessionID)},
				Columns: []changestream.Column{
					changestream.StringCol("gameState", state),
					changestream.Col("version", changestream.TypeInteger, version),
					changestream.Col("live", changestream.TypeBoolean, live),
					changestream.Col("blob", changestream.TypeBinary, blob),
				},
			}

			data, err := EncodeWireRecord("game_sessions", rec)
			if err != nil {
				return false
			}
			parsed, err := ParseWireRecord(data)
			if err != nil {
				return false
			}

			want := DecodeColumns(rec.Columns)
			got := DecodeColumns(parsed.Columns)
			return parsed.Kind == rec.Kind &&
				DecodePrimaryKey(parsed.PrimaryKey)["sessionId"] == sessionID &&
				got["gameState"] == want["gameState"] &&
				got["version"] == want["version"] &&
				got["live"] == want["live"] &&
				string(gotBlob(got["blob"])) == string(blob)
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.Int64(),
		gen.Bool(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func gotBlob(v interface{}) []byte {
	b, _ := v.([]byte)
	return b
}

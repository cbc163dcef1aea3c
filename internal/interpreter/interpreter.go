package interpreter

import (
	"errors"
	"fmt"

	"tunnel/pkg/changestream"
	"tunnel/pkg/notifier"
)

// ErrMalformedRecord marks a record whose required columns are present but unusable
var ErrMalformedRecord = errors.New("malformed record")

// Interpreter turns one change record into at most one notification.
// ok is false when the record is skipped; err is reserved for malformed data.
type Interpreter interface {
	Interpret(rec changestream.Record) (n notifier.Notification, ok bool, err error)
}

// TableBinding describes which columns a table's interpreter requires
type TableBinding struct {
	Table         string
	Kind          notifier.Kind
	KeyColumns    []string
	PayloadColumn string
}

var (
	SessionBinding = TableBinding{
		Table:         "game_sessions",
		Kind:          notifier.KindGameState,
		KeyColumns:    []string{"sessionId"},
		PayloadColumn: "gameState",
	}
	EventBinding = TableBinding{
		Table:         "game_events",
		Kind:          notifier.KindGameEvent,
		KeyColumns:    []string{"sessionId", "eventId"},
		PayloadColumn: "eventData",
	}
)

// stringField reads a required string. present is false for absent or null values;
// a value of any other type is malformed.
func stringField(m map[string]interface{}, name string) (value string, present bool, err error) {
	v, ok := m[name]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: column %q is %T, want string", ErrMalformedRecord, name, v)
	}
	return s, true, nil
}

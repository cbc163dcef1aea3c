package interpreter

import (
	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/notifier"
	"tunnel/pkg/parser"

	"go.uber.org/zap"
)

// EventInterpreter extracts appended game events from the event table
type EventInterpreter struct {
	logger  *logger.Logger
	binding TableBinding
}

// NewEventInterpreter creates an interpreter bound to EventBinding
func NewEventInterpreter(l *logger.Logger) *EventInterpreter {
	return &EventInterpreter{logger: l, binding: EventBinding}
}

func (i *EventInterpreter) Interpret(rec changestream.Record) (notifier.Notification, bool, error) {
	if rec.Kind != changestream.KindPut {
		return notifier.Notification{}, false, nil
	}

	pk := parser.DecodePrimaryKey(rec.PrimaryKey)
	sessionID, hasSession, err := stringField(pk, i.binding.KeyColumns[0])
	if err != nil {
		return notifier.Notification{}, false, err
	}
	eventID, hasEvent, err := stringField(pk, i.binding.KeyColumns[1])
	if err != nil {
		return notifier.Notification{}, false, err
	}
	if !hasSession || !hasEvent {
		i.logger.Warn("skipping record without sessionId or eventId",
			zap.String("session_id", sessionID),
			zap.String("event_id", eventID))
		return notifier.Notification{}, false, nil
	}

	cols := parser.DecodeColumns(rec.Columns)
	data, ok, err := stringField(cols, i.binding.PayloadColumn)
	if err != nil {
		return notifier.Notification{}, false, err
	}
	if !ok {
		i.logger.Warn("no eventData found for event",
			zap.String("session_id", sessionID),
			zap.String("event_id", eventID))
		return notifier.Notification{}, false, nil
	}

	return notifier.Notification{
		Kind:      i.binding.Kind,
		SessionID: sessionID,
		Payload:   data,
	}, true, nil
}

package interpreter

import (
	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/notifier"
	"tunnel/pkg/parser"

	"go.uber.org/zap"
)

// SessionInterpreter extracts game state changes from the session table
type SessionInterpreter struct {
	logger  *logger.Logger
	binding TableBinding
}

// NewSessionInterpreter creates an interpreter bound to SessionBinding
func NewSessionInterpreter(l *logger.Logger) *SessionInterpreter {
	return &SessionInterpreter{logger: l, binding: SessionBinding}
}

func (i *SessionInterpreter) Interpret(rec changestream.Record) (notifier.Notification, bool, error) {
	if rec.Kind != changestream.KindPut {
		return notifier.Notification{}, false, nil
	}

	pk := parser.DecodePrimaryKey(rec.PrimaryKey)
	sessionID, ok, err := stringField(pk, i.binding.KeyColumns[0])
	if err != nil {
		return notifier.Notification{}, false, err
	}
	if !ok {
		i.logger.Warn("skipping record without sessionId")
		return notifier.Notification{}, false, nil
	}

	cols := parser.DecodeColumns(rec.Columns)
	state, ok, err := stringField(cols, i.binding.PayloadColumn)
	if err != nil {
		return notifier.Notification{}, false, err
	}
	if !ok {
		i.logger.Warn("no gameState found for session", zap.String("session_id", sessionID))
		return notifier.Notification{}, false, nil
	}

	return notifier.Notification{
		Kind:      i.binding.Kind,
		SessionID: sessionID,
		Payload:   state,
	}, true, nil
}

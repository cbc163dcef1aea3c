package dispatcher

import (
	"testing"

	"tunnel/internal/interpreter"
	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/notifier"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Mocks
type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Notify(n notifier.Notification) { m.Called(n) }

type panickingInterpreter struct{ at int }

func (p *panickingInterpreter) Interpret(rec changestream.Record) (notifier.Notification, bool, error) {
	if rec.Timestamp == int64(p.at) {
		panic("boom")
	}
	return notifier.Notification{Kind: notifier.KindGameState, SessionID: "s", Payload: "p"}, true, nil
}

func session(id, state string) changestream.Record {
	return changestream.Record{
		Kind:       changestream.KindPut,
		PrimaryKey: []changestream.Column{changestream.StringCol("sessionId", id)},
		Columns:    []changestream.Column{changestream.StringCol("gameState", state)},
	}
}

func malformed() changestream.Record {
	return changestream.Record{
		Kind:       changestream.KindPut,
		PrimaryKey: []changestream.Column{changestream.Col("sessionId", changestream.TypeInteger, int64(1))},
		Columns:    []changestream.Column{changestream.StringCol("gameState", "{}")},
	}
}

func TestProcessForwardsInOrder(t *testing.T) {
	mn := new(MockNotifier)
	var got []string
	mn.On("Notify", mock.Anything).Run(func(args mock.Arguments) {
		got = append(got, args.Get(0).(notifier.Notification).SessionID)
	})

	d := New(logger.NewNop(), "game_sessions", interpreter.NewSessionInterpreter(logger.NewNop()), mn)
	stats := d.Process([]changestream.Record{
		session("a", "1"),
		{Kind: changestream.KindDelete, PrimaryKey: []changestream.Column{changestream.StringCol("sessionId", "gone")}},
		session("b", "2"),
		session("c", "3"),
	})

	assert.Equal(t, Stats{Forwarded: 3, Skipped: 1}, stats)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	mn.AssertNumberOfCalls(t, "Notify", 3)
}

func TestProcessEmptyBatch(t *testing.T) {
	mn := new(MockNotifier)
	d := New(logger.NewNop(), "game_events", interpreter.NewEventInterpreter(logger.NewNop()), mn)

	assert.Equal(t, Stats{}, d.Process(nil))
	mn.AssertNotCalled(t, "Notify", mock.Anything)
	assert.Equal(t, "game_events", d.Table())
}

func TestProcessIsolatesMalformedRecords(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: a malformed record at position k only costs that record
	properties.Property("malformed record k is skipped, the rest are notified", prop.ForAll(
		func(size, k int) bool {
			k = k % size
			records := make([]changestream.Record, size)
			for i := range records {
				records[i] = session(string(rune('a'+i)), "{}")
			}
			records[k] = malformed()

			mn := new(MockNotifier)
			mn.On("Notify", mock.Anything).Return()
			d := New(logger.NewNop(), "game_sessions", interpreter.NewSessionInterpreter(logger.NewNop()), mn)

			stats := d.Process(records)
			return stats.Failed == 1 &&
				stats.Forwarded == size-1 &&
				len(mn.Calls) == size-1
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProcessRecoversFromPanics(t *testing.T) {
	core, observed := observer.New(zap.ErrorLevel)
	mn := new(MockNotifier)
	mn.On("Notify", mock.Anything).Return()

	d := New(logger.NewWithCore(core), "game_sessions", &panickingInterpreter{at: 2}, mn)
	records := []changestream.Record{{Timestamp: 1}, {Timestamp: 2}, {Timestamp: 3}}

	var stats Stats
	require.NotPanics(t, func() { stats = d.Process(records) })
	assert.Equal(t, Stats{Forwarded: 2, Failed: 1}, stats)

	entries := observed.FilterMessage("panic while processing record").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["index"])
	assert.Equal(t, "game_sessions", entries[0].ContextMap()["table"])
}

func TestProcessLogsMalformedWithIndex(t *testing.T) {
	core, observed := observer.New(zap.ErrorLevel)
	mn := new(MockNotifier)
	mn.On("Notify", mock.Anything).Return()

	d := New(logger.NewWithCore(core), "game_sessions", interpreter.NewSessionInterpreter(logger.NewNop()), mn)
	d.Process([]changestream.Record{session("a", "1"), malformed()})

	entries := observed.FilterMessage("failed to process record").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["index"])
	assert.Equal(t, "PUT", entries[0].ContextMap()["kind"])
}

package changestream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tunnel/pkg/logger"
	"tunnel/pkg/retry"
	"tunnel/pkg/token"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrEmptyEvent is returned for change events without an operationType
var ErrEmptyEvent = errors.New("change event has no operationType")

// MongoOptions tunes a MongoSource
type MongoOptions struct {
	Table    string
	MaxBatch int
	Retry    retry.RetryOptions
}

// MongoSource streams a collection's change stream as record batches. The
// resume token of the last event in a batch is its checkpoint.
type MongoSource struct {
	collection *mongo.Collection
	store      token.TokenStore
	logger     *logger.Logger
	opts       MongoOptions

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMongoSource creates a source over coll whose checkpoints live in store
func NewMongoSource(coll *mongo.Collection, store token.TokenStore, l *logger.Logger, opts MongoOptions) *MongoSource {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 100
	}
	if opts.Table == "" {
		opts.Table = coll.Name()
	}
	return &MongoSource{
		collection: coll,
		store:      store,
		logger:     l.With(zap.String("table", opts.Table)),
		opts:       opts,
	}
}

// Watch loads the saved resume token and streams batches from there. A
// broken stream is reopened after the last delivered batch.
func (s *MongoSource) Watch(ctx context.Context) (<-chan Batch, <-chan error) {
	batchChan := make(chan Batch)
	errChan := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(batchChan)
		defer close(errChan)
		defer cancel()

		saved, err := s.store.Load(ctx)
		if err != nil {
			errChan <- fmt.Errorf("failed to load resume token: %w", err)
			return
		}
		var resumeToken bson.Raw
		if len(saved) > 0 {
			resumeToken = bson.Raw(saved)
			s.logger.Info("resuming change stream", zap.Int("token_bytes", len(saved)))
		}

		for {
			stream, err := s.open(ctx, resumeToken)
			if err != nil {
				if ctx.Err() == nil {
					errChan <- err
				}
				return
			}

			resumeToken, err = s.pump(ctx, stream, batchChan, resumeToken)
			_ = stream.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("change stream interrupted, reopening", err)
		}
	}()

	return batchChan, errChan
}

func (s *MongoSource) open(ctx context.Context, resumeToken bson.Raw) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if resumeToken != nil {
		opts.SetResumeAfter(resumeToken)
	}

	var stream *mongo.ChangeStream
	err := retry.Do(ctx, func() error {
		cs, err := s.collection.Watch(ctx, mongo.Pipeline{}, opts)
		if err != nil {
			s.logger.Warn("failed to open change stream", zap.Error(err))
			return err
		}
		stream = cs
		return nil
	}, s.opts.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	return stream, nil
}

// pump reads server batches until the stream fails or ctx ends, returning the
// token of the last batch handed to the consumer.
func (s *MongoSource) pump(ctx context.Context, stream *mongo.ChangeStream, out chan<- Batch, last bson.Raw) (bson.Raw, error) {
	for stream.Next(ctx) {
		records := make([]Record, 0, stream.RemainingBatchLength()+1)
		for {
			rec, err := ConvertEvent(stream.Current)
			if err != nil {
				s.logger.Error("skipping undecodable change event", err)
			} else {
				records = append(records, rec)
			}
			if stream.RemainingBatchLength() == 0 || len(records) >= s.opts.MaxBatch {
				break
			}
			if !stream.Next(ctx) {
				break
			}
		}

		checkpoint := cloneRaw(stream.ResumeToken())
		batch := Batch{Table: s.opts.Table, Records: records, Checkpoint: checkpoint}
		select {
		case out <- batch:
			last = checkpoint
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}

	if err := stream.Err(); err != nil {
		return last, err
	}
	return last, errors.New("change stream closed by server")
}

// Commit saves the batch's resume token
func (s *MongoSource) Commit(ctx context.Context, batch Batch) error {
	tok, ok := batch.Checkpoint.(bson.Raw)
	if !ok || len(tok) == 0 {
		return nil
	}
	if err := s.store.Save(ctx, tok); err != nil {
		return fmt.Errorf("failed to save resume token: %w", err)
	}
	return nil
}

// Close stops the stream started by Watch
func (s *MongoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// ConvertEvent maps one change stream document onto a Record
func ConvertEvent(raw bson.Raw) (Record, error) {
	if err := raw.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid change event: %w", err)
	}

	op, ok := raw.Lookup("operationType").StringValueOK()
	if !ok || op == "" {
		return Record{}, ErrEmptyEvent
	}

	rec := Record{}

	if key, ok := raw.Lookup("documentKey").DocumentOK(); ok {
		if id, err := key.LookupErr("_id"); err == nil {
			if embedded, ok := id.DocumentOK(); ok {
				cols, err := convertDocument(embedded, false)
				if err != nil {
					return Record{}, fmt.Errorf("invalid documentKey: %w", err)
				}
				rec.PrimaryKey = cols
			} else {
				rec.PrimaryKey = []Column{{Name: "_id", Value: ConvertValue(id)}}
			}
		}
	}

	fullDoc, hasFullDoc := raw.Lookup("fullDocument").DocumentOK()
	if hasFullDoc {
		cols, err := convertDocument(fullDoc, true)
		if err != nil {
			return Record{}, fmt.Errorf("invalid fullDocument: %w", err)
		}
		rec.Columns = cols
	}

	switch op {
	case "insert", "replace":
		rec.Kind = KindPut
	case "update":
		rec.Kind = KindUpdate
		if hasFullDoc {
			rec.Kind = KindPut
		}
	case "delete":
		rec.Kind = KindDelete
	default:
		rec.Kind = KindSystem
	}

	if ms, ok := raw.Lookup("wallTime").DateTimeOK(); ok {
		rec.Timestamp = ms
	} else if t, _, ok := raw.Lookup("clusterTime").TimestampOK(); ok {
		rec.Timestamp = int64(t) * 1000
	}

	return rec, nil
}

func convertDocument(doc bson.Raw, skipID bool) ([]Column, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, 0, len(elems))
	for _, e := range elems {
		if skipID && e.Key() == "_id" {
			continue
		}
		cols = append(cols, Column{Name: e.Key(), Value: ConvertValue(e.Value())})
	}
	return cols, nil
}

// ConvertValue tags a BSON value. Types with no column equivalent become
// TypeUnknown carrying their string rendering.
func ConvertValue(v bson.RawValue) Value {
	switch v.Type {
	case bsontype.String:
		return Value{Type: TypeString, Raw: v.StringValue()}
	case bsontype.Int32:
		return Value{Type: TypeInteger, Raw: int64(v.Int32())}
	case bsontype.Int64:
		return Value{Type: TypeInteger, Raw: v.Int64()}
	case bsontype.Double:
		return Value{Type: TypeFloat, Raw: v.Double()}
	case bsontype.Boolean:
		return Value{Type: TypeBoolean, Raw: v.Boolean()}
	case bsontype.Binary:
		_, data := v.Binary()
		return Value{Type: TypeBinary, Raw: append([]byte(nil), data...)}
	case bsontype.Null, bsontype.Undefined:
		return Value{Type: TypeUnknown}
	case bsontype.ObjectID:
		return Value{Type: TypeUnknown, Raw: v.ObjectID().Hex()}
	default:
		return Value{Type: TypeUnknown, Raw: v.String()}
	}
}

func cloneRaw(r bson.Raw) bson.Raw {
	if r == nil {
		return nil
	}
	return append(bson.Raw(nil), r...)
}

package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/producer"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	addr       string
	mode       string
	mongoURI   string
	dbName     string
	brokers    []string
	sessionsTo string
	eventsTo   string
)

var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Write sample game sessions and events for local bridge runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&addr, "addr", ":8082", "HTTP server address")
	f.StringVar(&mode, "mode", "mongo", "where rows are written: mongo or kafka")
	f.StringVar(&mongoURI, "uri", "mongodb://localhost:27017", "MongoDB URI")
	f.StringVar(&dbName, "db", "game", "Database name")
	f.StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "Kafka brokers")
	f.StringVar(&sessionsTo, "sessions", "game_sessions", "session collection or topic")
	f.StringVar(&eventsTo, "events", "game_events", "event collection or topic")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// writer stores one change for a table
type writer func(ctx context.Context, table string, rec changestream.Record) error

func run(parent context.Context) error {
	l, err := logger.New(logger.Config{Level: "info", ServiceName: "seeder"})
	if err != nil {
		return err
	}
	defer l.Sync()

	var write writer
	switch mode {
	case "kafka":
		p := producer.NewKafkaProducer(producer.Config{Brokers: brokers})
		defer p.Close()
		write = func(ctx context.Context, table string, rec changestream.Record) error {
			return (<-p.PublishRecord(ctx, table, rec)).Error
		}
	case "mongo":
		ctx, cancel := context.WithTimeout(parent, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		defer client.Disconnect(context.Background())
		db := client.Database(dbName)
		write = func(ctx context.Context, table string, rec changestream.Record) error {
			return upsert(ctx, db.Collection(table), rec)
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			sessionID = fmt.Sprintf("session-%d", rand.Int63())
		}
		state, _ := json.Marshal(map[string]interface{}{
			"turn":  rand.Intn(100),
			"score": rand.Int63n(1000000),
		})
		rec := changestream.Record{
			Kind:       changestream.KindPut,
			PrimaryKey: []changestream.Column{changestream.StringCol("sessionId", sessionID)},
			Columns: []changestream.Column{
				changestream.StringCol("gameState", string(state)),
				changestream.Col("updatedAt", changestream.TypeInteger, time.Now().UnixMilli()),
			},
			Timestamp: time.Now().UnixMilli(),
		}
		handle(w, r, l, sessionsTo, rec, write)
	})
	mux.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			http.Error(w, "sessionId is required", http.StatusBadRequest)
			return
		}
		data, _ := json.Marshal(map[string]interface{}{
			"action": []string{"move", "attack", "pass"}[rand.Intn(3)],
			"value":  rand.Intn(10),
		})
		rec := changestream.Record{
			Kind: changestream.KindPut,
			PrimaryKey: []changestream.Column{
				changestream.StringCol("sessionId", sessionID),
				changestream.StringCol("eventId", fmt.Sprintf("event-%d", time.Now().UnixNano())),
			},
			Columns:   []changestream.Column{changestream.StringCol("eventData", string(data))},
			Timestamp: time.Now().UnixMilli(),
		}
		handle(w, r, l, eventsTo, rec, write)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		l.Info("seeder starting", zap.String("addr", addr), zap.String("mode", mode))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("seeder server failed", err)
		}
	}()

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Info("shutting down seeder")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func handle(w http.ResponseWriter, r *http.Request, l *logger.Logger, table string, rec changestream.Record, write writer) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := write(ctx, table, rec); err != nil {
		l.Error("failed to write sample row", err, zap.String("table", table))
		http.Error(w, fmt.Sprintf("failed to write: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"table":      table,
		"primaryKey": keyMap(rec.PrimaryKey),
	})
}

// upsert stores rec as a document whose _id embeds the primary key columns,
// which is the shape the change stream source reads back.
func upsert(ctx context.Context, coll *mongo.Collection, rec changestream.Record) error {
	id := bson.D{}
	for _, c := range rec.PrimaryKey {
		id = append(id, bson.E{Key: c.Name, Value: c.Value.Raw})
	}
	doc := bson.D{{Key: "_id", Value: id}}
	for _, c := range rec.Columns {
		doc = append(doc, bson.E{Key: c.Name, Value: c.Value.Raw})
	}

	_, err := coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
	return err
}

func keyMap(cols []changestream.Column) map[string]interface{} {
	m := make(map[string]interface{}, len(cols))
	for _, c := range cols {
		m[c.Name] = c.Value.Raw
	}
	return m
}

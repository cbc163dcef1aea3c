package main

import (
	"context"
	"fmt"
	"path/filepath"

	"tunnel/pkg/changestream"
	"tunnel/pkg/config"
	"tunnel/pkg/consumer"
	"tunnel/pkg/logger"
	"tunnel/pkg/retry"
	"tunnel/pkg/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// checkpoints hands out one token store per table on the configured backend
type checkpoints struct {
	cfg   config.CheckpointConfig
	redis redis.UniversalClient
	pool  *pgxpool.Pool
}

func openCheckpoints(ctx context.Context, cfg config.CheckpointConfig) (*checkpoints, error) {
	c := &checkpoints{cfg: cfg}

	switch cfg.Backend {
	case config.CheckpointRedis:
		c.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.redis.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	case config.CheckpointPostgres:
		pool, err := token.NewPostgresPool(ctx, token.PostgresConfig{URI: cfg.PostgresURI, MaxConns: 4})
		if err != nil {
			return nil, err
		}
		c.pool = pool
	}

	return c, nil
}

func (c *checkpoints) For(table string) token.TokenStore {
	switch c.cfg.Backend {
	case config.CheckpointRedis:
		return token.NewRedisTokenStore(c.redis, c.cfg.KeyPrefix+table)
	case config.CheckpointPostgres:
		return token.NewPostgresTokenStore(c.pool, table)
	default:
		return token.NewFileTokenStore(filepath.Join(c.cfg.Dir, table+".token"))
	}
}

func (c *checkpoints) Close() {
	if c.redis != nil {
		c.redis.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

type sourceSet struct {
	sessions changestream.Source
	events   changestream.Source
	mongo    *mongo.Client
}

func openSources(ctx context.Context, cfg *config.AppConfig, stores *checkpoints, l *logger.Logger) (*sourceSet, error) {
	switch cfg.Source.Kind {
	case config.SourceKafka:
		newSource := func(table string) changestream.Source {
			c := consumer.NewKafkaConsumer(consumer.Config{
				Brokers: cfg.Kafka.Brokers,
				Topic:   table,
				GroupID: cfg.Kafka.GroupID,
			})
			return consumer.NewKafkaSource(c, l.Named("kafka"), consumer.SourceConfig{
				Table:         table,
				BatchSize:     cfg.Kafka.BatchSize,
				FlushInterval: cfg.Kafka.FlushInterval,
			})
		}
		return &sourceSet{
			sessions: newSource(cfg.Tunnels.Sessions),
			events:   newSource(cfg.Tunnels.Events),
		}, nil

	default:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.MongoDB.ConnectTimeout)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoDB.URI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to ping mongodb: %w", err)
		}

		db := client.Database(cfg.MongoDB.Database)
		newSource := func(table string) changestream.Source {
			return changestream.NewMongoSource(db.Collection(table), stores.For(table), l.Named("mongo"), changestream.MongoOptions{
				Table:    table,
				MaxBatch: cfg.MongoDB.MaxBatch,
				Retry:    retry.DefaultOptions(),
			})
		}
		return &sourceSet{
			sessions: newSource(cfg.Tunnels.Sessions),
			events:   newSource(cfg.Tunnels.Events),
			mongo:    client,
		}, nil
	}
}

// Close releases the shared client. The sources themselves are closed by the service.
func (s *sourceSet) Close() {
	if s.mongo != nil {
		s.mongo.Disconnect(context.Background())
	}
}

package token

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists the checkpoint of one change stream (a resume token or
// an encoded offset). Each tunnel gets its own store instance.
type TokenStore interface {
	// Save persists the checkpoint
	Save(ctx context.Context, token []byte) error

	// Load retrieves the last saved checkpoint. Returns nil if none exists.
	Load(ctx context.Context) ([]byte, error)
}

// FileTokenStore implements TokenStore using a local file
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Save writes to a sibling temp file and renames it so a crash never leaves a torn token
func (s *FileTokenStore) Save(ctx context.Context, token []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, token, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileTokenStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// RedisTokenStore implements TokenStore using Redis
type RedisTokenStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisTokenStore(client redis.UniversalClient, key string) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		key:    key,
	}
}

func (s *RedisTokenStore) Save(ctx context.Context, token []byte) error {
	return s.client.Set(ctx, s.key, token, 0).Err()
}

func (s *RedisTokenStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/types"
)

// RedisProvider implements the Registry interface on top of Redis. Each
// record is stored as JSON under "<prefix>upload:<id>" and the set
// "<prefix>uploads" indexes the known IDs.
type RedisProvider struct {
	client   redis.UniversalClient
	addr     string
	password string
	db       int
	prefix   string
}

var _ Registry = (*RedisProvider)(nil)

func configuredRedis() *RedisProvider {
	addr := lflag.String("redis-addr", "127.0.0.1:6379", "Redis address for the redis storage provider")
	password := lflag.String("redis-password", "", "Redis password")
	db := lflag.Int("redis-db", 0, "Redis database number")
	prefix := lflag.String("redis-prefix", "windyield:", "Prefix for every redis key")

	r := &RedisProvider{}
	lflag.Do(func() {
		r.addr = *addr
		r.password = *password
		r.db = *db
		r.prefix = *prefix
	})
	return r
}

// NewRedis wraps an existing client. It is used by tests and by callers that
// manage the client themselves.
func NewRedis(client redis.UniversalClient, prefix string) *RedisProvider {
	return &RedisProvider{client: client, prefix: prefix}
}

// Validate checks if the provider is properly configured.
func (r *RedisProvider) Validate() error {
	if r.addr == "" {
		return errors.New("redis-addr is required")
	}
	if r.db < 0 {
		return fmt.Errorf("invalid redis-db: %d", r.db)
	}
	return nil
}

// Init connects to redis and verifies the connection.
func (r *RedisProvider) Init(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     r.addr,
		Password: r.password,
		DB:       r.db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping redis (addr=%s): %w", r.addr, err)
	}
	r.client = client
	return nil
}

// Close closes the redis client.
func (r *RedisProvider) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisProvider) uploadKey(id string) string {
	return r.prefix + "upload:" + id
}

func (r *RedisProvider) indexKey() string {
	return r.prefix + "uploads"
}

// PutUpload stores the record and adds it to the index.
func (r *RedisProvider) PutUpload(ctx context.Context, file types.UploadedFile) error {
	if file.ID == "" {
		return fmt.Errorf("upload id cannot be empty")
	}
	jsonBytes, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal upload: %w", err)
	}
	if err := r.client.Set(ctx, r.uploadKey(file.ID), string(jsonBytes), 0).Err(); err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if err := r.client.SAdd(ctx, r.indexKey(), file.ID).Err(); err != nil {
		return fmt.Errorf("failed to index upload: %w", err)
	}
	return nil
}

// GetUpload fetches a single record.
func (r *RedisProvider) GetUpload(ctx context.Context, id string) (types.UploadedFile, error) {
	val, err := r.client.Get(ctx, r.uploadKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.UploadedFile{}, ErrUploadNotFound
		}
		return types.UploadedFile{}, fmt.Errorf("failed to fetch upload: %w", err)
	}
	var file types.UploadedFile
	if err := json.Unmarshal([]byte(val), &file); err != nil {
		return types.UploadedFile{}, fmt.Errorf("failed to unmarshal upload (id=%s): %w", id, err)
	}
	return file, nil
}

// DeleteUpload removes the record and its index entry.
func (r *RedisProvider) DeleteUpload(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, r.uploadKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete upload: %w", err)
	}
	if err := r.client.SRem(ctx, r.indexKey(), id).Err(); err != nil {
		return false, fmt.Errorf("failed to unindex upload: %w", err)
	}
	return n > 0, nil
}

// ListUploads returns every indexed record ordered by upload time. Index
// entries whose record has disappeared are pruned.
func (r *RedisProvider) ListUploads(ctx context.Context) ([]types.UploadedFile, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	sort.Strings(ids)

	files := make([]types.UploadedFile, 0, len(ids))
	for _, id := range ids {
		file, err := r.GetUpload(ctx, id)
		if errors.Is(err, ErrUploadNotFound) {
			log.Ctx(ctx).DebugContext(ctx, "pruning stale upload index entry", slog.String("fileID", id))
			if err := r.client.SRem(ctx, r.indexKey(), id).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune upload index: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
	return files, nil
}

// Package redis keeps the latest snapshot in Redis as JSON.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/app"
	"github.com/fd1az/pool-pricer/internal/apperror"
)

const tracerName = "github.com/fd1az/pool-pricer/business/snapshot/infra/redis"

var _ app.SnapshotStore = (*Store)(nil)

// Config holds the connection and key settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL of the stored snapshot; zero keeps it until overwritten.
	TTL time.Duration
}

// Store is a SnapshotStore writing `<prefix>:snapshot:latest`.
type Store struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	tracer trace.Tracer
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperror.External(apperror.CodeSnapshotStoreError, "ping redis "+cfg.Addr, err)
	}
	return NewStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *goredis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		key:    Key(prefix),
		ttl:    ttl,
		tracer: otel.Tracer(tracerName),
	}
}

// Key returns the snapshot key for prefix.
func Key(prefix string) string {
	if prefix == "" {
		return "snapshot:latest"
	}
	return fmt.Sprintf("%s:snapshot:latest", prefix)
}

// Save writes snap as JSON.
func (s *Store) Save(ctx context.Context, snap *pricing.Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "redis.snapshot.save",
		trace.WithAttributes(attribute.String("key", s.key), attribute.Int64("version", int64(snap.Version))),
	)
	defer span.End()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return apperror.External(apperror.CodeSnapshotStoreError, "set "+s.key, err)
	}
	return nil
}

// Load reads the stored snapshot; a missing key yields nil.
func (s *Store) Load(ctx context.Context) (*pricing.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "redis.snapshot.load",
		trace.WithAttributes(attribute.String("key", s.key)),
	)
	defer span.End()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperror.External(apperror.CodeSnapshotStoreError, "get "+s.key, err)
	}

	var snap pricing.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperror.Wrap(fmt.Errorf("failed to unmarshal snapshot: %w", err),
			apperror.CodeSnapshotStoreError, s.key)
	}
	return &snap, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

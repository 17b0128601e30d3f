// Package redis appends ledger rows to a Redis stream so other processes can
// follow a running batch (XREAD) while it is still in progress.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"fluxrepair/pkg/domain"
)

var _ domain.PersistentLedger = (*Store)(nil)

const defaultStream = "fluxrepair:ledger"

// Config selects the Redis server and stream.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	// MaxLen caps the stream approximately; zero keeps every entry.
	MaxLen int64 `mapstructure:"max_len"`
}

// Store publishes each row as one stream entry.
type Store struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStoreWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client redis.UniversalClient, stream string, maxLen int64) *Store {
	if stream == "" {
		stream = defaultStream
	}
	return &Store{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the stream key rows are appended to.
func (s *Store) Stream() string { return s.stream }

// Append adds row to the stream.
func (s *Store) Append(ctx context.Context, row domain.Outcome) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %d: %w", row.Index, err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"run_id":         row.RunID,
			"index":          strconv.Itoa(row.Index),
			"classification": string(row.Classification),
			"payload":        payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Load replays the stream and returns the rows of runID (latest run when empty).
func (s *Store) Load(ctx context.Context, runID string) ([]domain.Outcome, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]domain.Outcome, 0, len(msgs))
	for _, msg := range msgs {
		if runID != "" && msg.Values["run_id"] != runID {
			continue
		}
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s has no payload", msg.ID)
		}
		var o domain.Outcome
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
		}
		out = append(out, o)
	}
	return domain.SelectRun(out, runID), nil
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"fluxrepair/pkg/domain"
)

func TestStoreStreamRoundTrip(t *testing.T) {
	addr := os.Getenv("FLUXREPAIR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLUXREPAIR_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	stream := "fluxrepair:test:" + uuid.NewString()
	s, err := NewStore(ctx, Config{Addr: addr, Stream: stream})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() {
		_ = s.client.Del(ctx, stream).Err()
		_ = s.Close()
	}()
	now := time.Now().UTC()
	for _, r := range []domain.Outcome{
		{RunID: "a", Index: 1, RecordedAt: now},
		{RunID: "a", Index: 0, ReactionsAdded: []string{"R1"}, RecordedAt: now},
		{RunID: "b", Index: 0, RecordedAt: now.Add(time.Second)},
	} {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rows, err := s.Load(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 || rows[0].Index != 0 || rows[0].ReactionsAddedString() != "R1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	latest, err := s.Load(ctx, "")
	if err != nil || len(latest) != 1 || latest[0].RunID != "b" {
		t.Fatalf("expected latest run b, got %+v (%v)", latest, err)
	}
}

func TestNewStoreRequiresAddr(t *testing.T) {
	if _, err := NewStore(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}

func TestNewStoreWithClientDefaultsStream(t *testing.T) {
	s := NewStoreWithClient(nil, "", 0)
	if s.Stream() != defaultStream {
		t.Fatalf("expected default stream, got %s", s.Stream())
	}
}

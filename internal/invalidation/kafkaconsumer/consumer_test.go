package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/invalidation"
	"github.com/geoply/mvtserver/internal/projection"
)

type fakeStore struct {
	failFirst    atomic.Bool
	mu           sync.Mutex
	purgedTiles  [][]string
	purgedSource []string
}

func (f *fakeStore) Get(context.Context, string) (*cache.Object, error) { return nil, nil }
func (f *fakeStore) Put(context.Context, string, cache.Object) error    { return nil }

func (f *fakeStore) PurgeTiles(_ context.Context, keys []string) error {
	f.mu.Lock()
	f.purgedTiles = append(f.purgedTiles, keys)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeStore) PurgeSource(_ context.Context, source string) error {
	f.mu.Lock()
	f.purgedSource = append(f.purgedSource, source)
	f.mu.Unlock()
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "tile-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func tilesEventBytes(depth int) []byte {
	ev := invalidation.Event{
		Version: 1, Op: invalidation.OpTiles, Source: "local", TS: time.Now().UTC(),
		Tiles: []projection.Tile{{Z: 14, X: 8691, Y: 5677}},
		Depth: depth,
	}
	b, _ := json.Marshal(ev)
	return b
}

func sourceEventBytes() []byte {
	ev := invalidation.Event{
		Version: 1, Op: invalidation.OpSource, Source: "local", TS: time.Now().UTC(),
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fs *fakeStore) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "tile-invalidation", GroupID: "g"}
	return New(cfg, slog.Default(), fs)
}

func TestProcessOne_TilesEventExpandsPyramid(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs)

	msg := &sarama.ConsumerMessage{Topic: "tile-invalidation", Value: tilesEventBytes(1)}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if len(fs.purgedTiles) != 1 {
		t.Fatalf("purge calls = %d, want 1", len(fs.purgedTiles))
	}
	keys := fs.purgedTiles[0]
	// the tile itself plus its four children
	if len(keys) != 5 {
		t.Fatalf("keys = %d, want 5: %v", len(keys), keys)
	}
	if keys[0] != "local/14/8691/5677.mvt" {
		t.Fatalf("first key = %q", keys[0])
	}
	if keys[1] != "local/15/17382/11354.mvt" {
		t.Fatalf("first child key = %q", keys[1])
	}
}

func TestProcessOne_SourceEventPurgesSource(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs)

	msg := &sarama.ConsumerMessage{Topic: "tile-invalidation", Value: sourceEventBytes()}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if len(fs.purgedSource) != 1 || fs.purgedSource[0] != "local" {
		t.Fatalf("purged sources = %v", fs.purgedSource)
	}
	if len(fs.purgedTiles) != 0 {
		t.Fatalf("unexpected tile purges: %v", fs.purgedTiles)
	}
}

func TestProcessOne_RejectsInvalidEvents(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs)

	bad := [][]byte{
		[]byte("not json"),
		[]byte(`{"version":2,"op":"source","source":"local","ts":"2026-08-28T00:00:00Z"}`),
		[]byte(`{"version":1,"op":"tiles","source":"local","ts":"2026-08-28T00:00:00Z"}`),
	}
	for _, val := range bad {
		msg := &sarama.ConsumerMessage{Topic: "tile-invalidation", Value: val}
		if err := c.ProcessOne(context.Background(), msg); err == nil {
			t.Fatalf("expected an error for %s", val)
		}
	}
	if len(fs.purgedTiles) != 0 || len(fs.purgedSource) != 0 {
		t.Fatalf("invalid events must not purge anything")
	}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)

	ch <- &sarama.ConsumerMessage{Topic: "tile-invalidation", Partition: 0, Offset: 10, Value: tilesEventBytes(0)}
	ch <- &sarama.ConsumerMessage{Topic: "tile-invalidation", Partition: 0, Offset: 11, Value: tilesEventBytes(0)}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fs := &fakeStore{}
	fs.failFirst.Store(true)
	c := newConsumerForTest(fs)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "tile-invalidation", Partition: 0, Offset: 5, Value: tilesEventBytes(0)}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newDisk(t *testing.T, ttl time.Duration, retain bool) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir(), ttl, retain, discardLogger())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDiskTakeExactlyOnce(t *testing.T) {
	s := newDisk(t, 0, false)
	ctx := context.Background()
	requestID := uuid.NewString()

	meta, err := s.Put(ctx, Artifact{RequestID: requestID, Language: "es"}, []byte("RIFF-es"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if meta.ID == "" || meta.Size != 7 || meta.ContentType != ContentTypeWAV {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	var wg sync.WaitGroup
	var hits atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj, err := s.Take(ctx, meta.ID)
			if err == nil {
				hits.Add(1)
				if !bytes.Equal(obj.Data, []byte("RIFF-es")) || obj.Language != "es" {
					t.Errorf("unexpected object %+v", obj.Artifact)
				}
				return
			}
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one successful take, got %d", hits.Load())
	}
	if _, err := os.Stat(filepath.Join(s.dir, requestID)); !os.IsNotExist(err) {
		t.Fatalf("expected empty arena to be removed, stat err=%v", err)
	}
}

func TestDiskRetainAfterRead(t *testing.T) {
	s := newDisk(t, 0, true)
	ctx := context.Background()
	meta, err := s.Put(ctx, Artifact{RequestID: uuid.NewString(), Language: "fr"}, []byte("data"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Take(ctx, meta.ID); err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
	}
}

func TestDiskExpiry(t *testing.T) {
	s := newDisk(t, time.Minute, false)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }
	ctx := context.Background()

	first, err := s.Put(ctx, Artifact{RequestID: uuid.NewString(), Language: "es"}, []byte("a"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := s.Put(ctx, Artifact{RequestID: uuid.NewString(), Language: "fr"}, []byte("b"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Take(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired artifact to be gone, got %v", err)
	}
	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove one artifact, got %d", removed)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty index, got %d", s.Len())
	}
	if _, err := s.Take(ctx, second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected swept artifact to be gone, got %v", err)
	}
}

func TestDiskRejectsForeignIDs(t *testing.T) {
	s := newDisk(t, 0, false)
	for _, id := range []string{"", "../../etc/passwd", "not-a-uuid"} {
		if _, err := s.Take(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for %q, got %v", id, err)
		}
	}
	if _, err := s.Put(context.Background(), Artifact{}, nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestDiskRemovesStaleArenas(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, uuid.NewString())
	keep := filepath.Join(dir, "notes")
	for _, d := range []string{stale, keep} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	s, err := NewDiskStore(dir, 0, false, discardLogger())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale arena removed")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("unrelated directories must be kept")
	}
}

func TestJetStreamTakeExactlyOnce(t *testing.T) {
	log := discardLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{ConnectTimeout: 2000}, log, srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	store, err := New(context.Background(), config.ArtifactsConfig{Backend: "jetstream", Bucket: "artifacts-test", TTLMinutes: 5}, client.JetStream(), log)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	meta, err := store.Put(ctx, Artifact{RequestID: "req-1", Language: "es"}, []byte("RIFF"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, err := store.Take(ctx, meta.ID)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if string(obj.Data) != "RIFF" || obj.RequestID != "req-1" || obj.Language != "es" || obj.ContentType != ContentTypeWAV {
		t.Fatalf("unexpected object %+v", obj.Artifact)
	}
	if _, err := store.Take(ctx, meta.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second take to miss, got %v", err)
	}
	if _, err := store.Take(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unknown id to miss, got %v", err)
	}
	if held := store.(*JetStreamStore).claims.len(); held != 0 {
		t.Fatalf("expected no read claims after deletes, %d held", held)
	}
}

func TestClaimsAreExclusiveAndLapse(t *testing.T) {
	c := claims{horizon: 20 * time.Millisecond}
	id := uuid.NewString()
	if !c.claim(id) {
		t.Fatal("first claim must succeed")
	}
	if c.claim(id) {
		t.Fatal("second claim must fail while held")
	}
	c.release(id)
	if !c.claim(id) {
		t.Fatal("claim must succeed after release")
	}

	time.Sleep(40 * time.Millisecond)
	if !c.claim(uuid.NewString()) {
		t.Fatal("fresh claim must succeed")
	}
	if held := c.len(); held != 1 {
		t.Fatalf("expected lapsed claim swept, %d held", held)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), config.ArtifactsConfig{Backend: "tape"}, nil, discardLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := New(context.Background(), config.ArtifactsConfig{Backend: "jetstream"}, nil, discardLogger()); err == nil {
		t.Fatal("expected error for jetstream without bus")
	}
}

package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func TestSetReadiness(t *testing.T) {
	set := NewSet(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if set.Ready() {
		t.Fatal("empty set must not be ready")
	}
	set.Register(STT, "mock", 1, nil, nil)
	if !set.Ready() {
		t.Fatal("expected ready after successful registration")
	}
	set.Register(TTS, "exec", 1, nil, errors.New("command not found"))
	if set.Ready() {
		t.Fatal("expected not ready when a capability failed")
	}
	st, ok := set.Status(TTS)
	if !ok || st.Ready || st.Error == "" {
		t.Fatalf("unexpected tts status %+v", st)
	}
}

func TestSetCloseOnce(t *testing.T) {
	set := NewSet(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	c := &closeCounter{}
	set.Register(Translate, "mock", 1, c, nil)
	_ = set.Close()
	_ = set.Close()
	if c.n.Load() != 1 {
		t.Fatalf("expected one close, got %d", c.n.Load())
	}
}

func TestGateSerializes(t *testing.T) {
	gate := NewGate(1)
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = gate.Do(context.Background(), func(context.Context) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected serialized access, peak concurrency %d", peak.Load())
	}
}

func TestGateAcquireHonoursContext(t *testing.T) {
	gate := NewGate(1)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

package fanout

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunCollectsEveryKey(t *testing.T) {
	keys := []string{"es", "fr", "de", "it"}
	results, pending := Run(context.Background(), keys, 2, func(_ context.Context, key string) (string, error) {
		return strings.ToUpper(key), nil
	})
	if len(pending) != 0 {
		t.Fatalf("expected no pending keys, got %v", pending)
	}
	if len(results) != len(keys) {
		t.Fatalf("expected %d results, got %d", len(keys), len(results))
	}
	if results["fr"].Value != "FR" {
		t.Fatalf("unexpected value for fr: %+v", results["fr"])
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	results, _ := Run(context.Background(), []string{"es", "zh"}, 2, func(_ context.Context, key string) (string, error) {
		if key == "zh" {
			return "", errors.New("model error")
		}
		return "hola", nil
	})
	if results["es"].Err != nil || results["es"].Value != "hola" {
		t.Fatalf("expected es success, got %+v", results["es"])
	}
	if results["zh"].Err == nil {
		t.Fatal("expected zh failure")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	results, _ := Run(context.Background(), []string{"es", "fr"}, 1, func(_ context.Context, key string) (int, error) {
		if key == "fr" {
			panic("boom")
		}
		return 1, nil
	})
	var pe *PanicError
	if !errors.As(results["fr"].Err, &pe) || pe.Key != "fr" {
		t.Fatalf("expected panic error for fr, got %v", results["fr"].Err)
	}
	if results["es"].Value != 1 {
		t.Fatalf("expected es to succeed, got %+v", results["es"])
	}
}

func TestRunRespectsLimit(t *testing.T) {
	var active, peak atomic.Int32
	keys := []string{"a", "b", "c", "d", "e", "f"}
	Run(context.Background(), keys, 2, func(_ context.Context, _ string) (struct{}, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", peak.Load())
	}
}

func TestRunReportsPendingOnDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results, pending := Run(ctx, []string{"fast", "slow"}, 2, func(ctx context.Context, key string) (string, error) {
		if key == "slow" {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				// Report after the deadline; the result must be discarded.
				time.Sleep(10 * time.Millisecond)
			}
			return "late", nil
		}
		return "ok", nil
	})
	if results["fast"].Value != "ok" {
		t.Fatalf("expected fast result, got %+v", results["fast"])
	}
	if _, ok := results["slow"]; ok {
		t.Fatal("late result must not be collected")
	}
	if len(pending) != 1 || pending[0] != "slow" {
		t.Fatalf("expected slow pending, got %v", pending)
	}
}

package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	STT       = "stt"
	Translate = "translate"
	TTS       = "tts"
	Codec     = "codec"
)

// Status is the startup outcome of one capability.
type Status struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	Ready       bool   `json:"ready"`
	Concurrency int    `json:"concurrency"`
	Error       string `json:"error,omitempty"`
}

type entry struct {
	status Status
	gate   *Gate
	closer io.Closer
}

// Set holds the capability instances built once at startup. Components
// register themselves and receive the gate they must pass for every call.
type Set struct {
	log        *slog.Logger
	mu         sync.RWMutex
	entries    map[string]*entry
	meter      metric.Meter
	readyGauge metric.Int64ObservableGauge
	busyGauge  metric.Int64ObservableGauge
	closeOnce  sync.Once
}

func NewSet(log *slog.Logger) *Set {
	s := &Set{
		log:     log.With(slog.String("component", "capability-set")),
		entries: make(map[string]*entry),
		meter:   otel.Meter("github.com/loqalabs/loqa-translate/capability"),
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

// Register records a capability. initErr non-nil marks it unavailable; the
// failure is logged here once instead of on every request.
func (s *Set) Register(name, mode string, concurrency int, closer io.Closer, initErr error) *Gate {
	gate := NewGate(concurrency)
	st := Status{Name: name, Mode: mode, Ready: initErr == nil, Concurrency: gate.Size()}
	if initErr != nil {
		st.Error = initErr.Error()
		s.log.Error("capability unavailable",
			slog.String("capability", name),
			slog.String("mode", mode),
			slog.String("error", initErr.Error()))
	} else {
		s.log.Info("capability ready",
			slog.String("capability", name),
			slog.String("mode", mode),
			slog.Int("concurrency", gate.Size()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = &entry{status: st, gate: gate, closer: closer}
	return gate
}

// Ready reports whether every registered capability initialized.
func (s *Set) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return false
	}
	for _, e := range s.entries {
		if !e.status.Ready {
			return false
		}
	}
	return true
}

func (s *Set) Status(name string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

func (s *Set) Snapshot() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close releases backend resources. Safe to call more than once.
func (s *Set) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for name, e := range s.entries {
			if e.closer == nil {
				continue
			}
			if err := e.closer.Close(); err != nil {
				errs = append(errs, err)
				s.log.Warn("capability close failed", slog.String("capability", name), slog.String("error", err.Error()))
			}
		}
	})
	return errors.Join(errs...)
}

func (s *Set) initMetrics() error {
	if s.meter == nil {
		return nil
	}
	ready, err := s.meter.Int64ObservableGauge("loqa.capability.ready", metric.WithDescription("1 when the capability initialized"))
	if err != nil {
		return err
	}
	busy, err := s.meter.Int64ObservableGauge("loqa.capability.in_use", metric.WithDescription("Gate slots currently held"))
	if err != nil {
		return err
	}
	s.readyGauge = ready
	s.busyGauge = busy
	_, err = s.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for name, e := range s.entries {
			attrs := metric.WithAttributes(attribute.String("capability", name), attribute.String("mode", e.status.Mode))
			var v int64
			if e.status.Ready {
				v = 1
			}
			obs.ObserveInt64(ready, v, attrs)
			obs.ObserveInt64(busy, int64(e.gate.InUse()), attrs)
		}
		return nil
	}, ready, busy)
	return err
}

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type diskEntry struct {
	Artifact
	path string
}

// DiskStore keeps artifacts as files under one arena directory per request.
// The index lives in memory, so artifacts do not survive a restart.
type DiskStore struct {
	dir    string
	ttl    time.Duration
	retain bool
	log    *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	index map[string]diskEntry

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDiskStore(dir string, ttl time.Duration, retain bool, log *slog.Logger) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	s := &DiskStore{
		dir:    dir,
		ttl:    ttl,
		retain: retain,
		log:    log,
		clock:  time.Now,
		index:  make(map[string]diskEntry),
		stop:   make(chan struct{}),
	}
	s.removeStaleArenas()
	if ttl > 0 {
		s.wg.Add(1)
		go s.sweepLoop(sweepInterval(ttl))
	}
	return s, nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	return interval
}

func (s *DiskStore) Put(ctx context.Context, meta Artifact, data []byte) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	meta, err := prepare(meta, data, s.clock())
	if err != nil {
		return Artifact{}, err
	}
	arena := meta.RequestID
	if !validID(arena) {
		arena = "unscoped"
	}
	arenaDir := filepath.Join(s.dir, arena)
	if err := os.MkdirAll(arenaDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create arena: %w", err)
	}
	path := filepath.Join(arenaDir, meta.ID+".wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}

	s.mu.Lock()
	s.index[meta.ID] = diskEntry{Artifact: meta, path: path}
	s.mu.Unlock()
	return meta, nil
}

func (s *DiskStore) Take(ctx context.Context, id string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if !validID(id) {
		return Object{}, ErrNotFound
	}

	s.mu.Lock()
	entry, ok := s.index[id]
	if ok && s.expired(entry.Artifact) {
		delete(s.index, id)
		s.mu.Unlock()
		s.removeFile(entry.path)
		return Object{}, ErrNotFound
	}
	if ok && !s.retain {
		delete(s.index, id)
	}
	s.mu.Unlock()
	if !ok {
		return Object{}, ErrNotFound
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("read artifact: %w", err)
	}
	if !s.retain {
		s.removeFile(entry.path)
	}
	return Object{Artifact: entry.Artifact, Data: data}, nil
}

// Len reports the number of live artifacts.
func (s *DiskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *DiskStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

func (s *DiskStore) expired(a Artifact) bool {
	return s.ttl > 0 && s.clock().Sub(a.CreatedAt) > s.ttl
}

func (s *DiskStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep drops expired artifacts and returns how many were removed.
func (s *DiskStore) Sweep() int {
	s.mu.Lock()
	var stale []diskEntry
	for id, entry := range s.index {
		if s.expired(entry.Artifact) {
			stale = append(stale, entry)
			delete(s.index, id)
		}
	}
	s.mu.Unlock()

	for _, entry := range stale {
		s.removeFile(entry.path)
	}
	if len(stale) > 0 {
		s.log.Debug("expired artifacts removed", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// removeFile deletes an artifact file and its arena once the arena is empty.
func (s *DiskStore) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("remove artifact failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	// Fails while other artifacts of the same request remain.
	_ = os.Remove(filepath.Dir(path))
}

// removeStaleArenas clears arenas left by a previous process; their index is gone.
func (s *DiskStore) removeStaleArenas() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil && e.Name() != "unscoped" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warn("remove stale arena failed", slog.String("arena", e.Name()), slog.String("error", err.Error()))
		}
	}
}

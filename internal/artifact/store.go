package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/nats-io/nats.go"
)

const ContentTypeWAV = "audio/wav"

var (
	ErrNotFound = errors.New("artifact not found")
	ErrEmpty    = errors.New("artifact has no data")
)

// Artifact describes one stored synthesis result.
type Artifact struct {
	ID          string    `json:"artifact_id"`
	RequestID   string    `json:"request_id"`
	Language    string    `json:"language"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Object is an artifact together with its bytes.
type Object struct {
	Artifact
	Data []byte
}

// Store persists synthesized audio addressed by generated ids. Take returns
// an artifact at most once unless the store retains artifacts after reads.
type Store interface {
	Put(ctx context.Context, meta Artifact, data []byte) (Artifact, error)
	Take(ctx context.Context, id string) (Object, error)
	Close() error
}

// New builds the configured backend. js is only required for the jetstream
// backend.
func New(ctx context.Context, cfg config.ArtifactsConfig, js nats.JetStreamContext, log *slog.Logger) (Store, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	log = log.With(slog.String("component", "artifact-store"), slog.String("backend", cfg.Backend))
	switch cfg.Backend {
	case "", "disk":
		return NewDiskStore(cfg.Dir, ttl, cfg.RetainAfterRead, log)
	case "jetstream":
		if js == nil {
			return nil, errors.New("jetstream artifact backend requires a bus connection")
		}
		return NewJetStreamStore(js, cfg.Bucket, ttl, cfg.RetainAfterRead, log)
	case "s3":
		return NewS3Store(ctx, cfg.S3, cfg.Bucket, ttl, cfg.RetainAfterRead, log)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

func newID() string { return uuid.NewString() }

// validID rejects anything that is not one of our generated ids, which also
// keeps ids safe to use as file names and object keys.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

func prepare(meta Artifact, data []byte, now time.Time) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, ErrEmpty
	}
	meta.ID = newID()
	meta.Size = int64(len(data))
	meta.CreatedAt = now.UTC()
	if meta.ContentType == "" {
		meta.ContentType = ContentTypeWAV
	}
	return meta, nil
}

// claims guards exactly-once reads for backends without an atomic
// get-and-delete. A claim is dropped once the object is deleted; a claim
// whose delete failed lapses after horizon.
type claims struct {
	mu      sync.Mutex
	taken   map[string]time.Time
	horizon time.Duration
}

const defaultClaimHorizon = time.Hour

func (c *claims) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if c.taken == nil {
		c.taken = make(map[string]time.Time)
	}
	horizon := c.horizon
	if horizon <= 0 {
		horizon = defaultClaimHorizon
	}
	for held, at := range c.taken {
		if now.Sub(at) > horizon {
			delete(c.taken, held)
		}
	}
	if _, ok := c.taken[id]; ok {
		return false
	}
	c.taken[id] = now
	return true
}

func (c *claims) release(id string) {
	c.mu.Lock()
	delete(c.taken, id)
	c.mu.Unlock()
}

func (c *claims) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.taken)
}

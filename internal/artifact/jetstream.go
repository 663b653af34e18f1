package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	metaRequestID   = "request_id"
	metaLanguage    = "language"
	metaContentType = "content_type"
	metaCreatedAt   = "created_at"
)

// JetStreamStore keeps artifacts in a NATS object store bucket whose TTL
// expires unread objects.
type JetStreamStore struct {
	obs    nats.ObjectStore
	retain bool
	log    *slog.Logger
	claims claims
}

func NewJetStreamStore(js nats.JetStreamContext, bucket string, ttl time.Duration, retain bool, log *slog.Logger) (*JetStreamStore, error) {
	if bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	obs, err := js.ObjectStore(bucket)
	if err != nil {
		obs, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "synthesized translation audio",
			TTL:         ttl,
			Storage:     nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create object store %q: %w", bucket, err)
		}
		log.Info("artifact bucket created", slog.String("bucket", bucket), slog.Duration("ttl", ttl))
	}
	return &JetStreamStore{obs: obs, retain: retain, log: log, claims: claims{horizon: ttl}}, nil
}

func (s *JetStreamStore) Put(ctx context.Context, meta Artifact, data []byte) (Artifact, error) {
	meta, err := prepare(meta, data, time.Now())
	if err != nil {
		return Artifact{}, err
	}
	_, err = s.obs.Put(&nats.ObjectMeta{
		Name: meta.ID,
		Metadata: map[string]string{
			metaRequestID:   meta.RequestID,
			metaLanguage:    meta.Language,
			metaContentType: meta.ContentType,
			metaCreatedAt:   strconv.FormatInt(meta.CreatedAt.UnixNano(), 10),
		},
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return Artifact{}, fmt.Errorf("put object: %w", err)
	}
	return meta, nil
}

func (s *JetStreamStore) Take(ctx context.Context, id string) (Object, error) {
	if !validID(id) {
		return Object{}, ErrNotFound
	}
	if !s.retain {
		if !s.claims.claim(id) {
			return Object{}, ErrNotFound
		}
	}

	obj, err := s.read(ctx, id)
	if err != nil {
		if !s.retain {
			s.claims.release(id)
		}
		return Object{}, err
	}
	if !s.retain {
		if err := s.obs.Delete(id); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
			s.log.Warn("delete artifact failed", slog.String("artifact_id", id), slog.String("error", err.Error()))
		} else {
			s.claims.release(id)
		}
	}
	return obj, nil
}

func (s *JetStreamStore) read(ctx context.Context, id string) (Object, error) {
	info, err := s.obs.GetInfo(id, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("object info: %w", err)
	}
	data, err := s.obs.GetBytes(id, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("get object: %w", err)
	}
	meta := Artifact{
		ID:          id,
		RequestID:   info.Metadata[metaRequestID],
		Language:    info.Metadata[metaLanguage],
		ContentType: info.Metadata[metaContentType],
		Size:        int64(len(data)),
		CreatedAt:   info.ModTime,
	}
	if nanos, err := strconv.ParseInt(info.Metadata[metaCreatedAt], 10, 64); err == nil {
		meta.CreatedAt = time.Unix(0, nanos).UTC()
	}
	if meta.ContentType == "" {
		meta.ContentType = ContentTypeWAV
	}
	return Object{Artifact: meta, Data: data}, nil
}

// Close is a no-op; the bus connection is owned by the runtime.
func (s *JetStreamStore) Close() error { return nil }

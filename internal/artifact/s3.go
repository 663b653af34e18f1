package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps artifacts in an S3-compatible bucket. Expiry is enforced on
// read; bucket lifecycle rules are expected to collect unread objects.
type S3Store struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	retain bool
	log    *slog.Logger
	claims claims
}

func NewS3Store(ctx context.Context, cfg config.S3Config, bucket string, ttl time.Duration, retain bool, log *slog.Logger) (*S3Store, error) {
	if cfg.Endpoint == "" || bucket == "" {
		return nil, errors.New("s3 artifact backend requires endpoint and bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		log.Info("artifact bucket created", slog.String("bucket", bucket))
	}
	return &S3Store{client: client, bucket: bucket, ttl: ttl, retain: retain, log: log, claims: claims{horizon: ttl}}, nil
}

func objectKey(id string) string { return "artifacts/" + id + ".wav" }

func (s *S3Store) Put(ctx context.Context, meta Artifact, data []byte) (Artifact, error) {
	meta, err := prepare(meta, data, time.Now())
	if err != nil {
		return Artifact{}, err
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectKey(meta.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: meta.ContentType,
		UserMetadata: map[string]string{
			"request-id": meta.RequestID,
			"language":   meta.Language,
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload artifact: %w", err)
	}
	return meta, nil
}

func (s *S3Store) Take(ctx context.Context, id string) (Object, error) {
	if !validID(id) {
		return Object{}, ErrNotFound
	}
	if !s.retain && !s.claims.claim(id) {
		return Object{}, ErrNotFound
	}

	obj, err := s.read(ctx, id)
	if err != nil {
		if !s.retain {
			s.claims.release(id)
		}
		return Object{}, err
	}
	if s.ttl > 0 && time.Since(obj.CreatedAt) > s.ttl {
		s.remove(ctx, id)
		return Object{}, ErrNotFound
	}
	if !s.retain {
		s.remove(ctx, id)
	}
	return obj, nil
}

func (s *S3Store) read(ctx context.Context, id string) (Object, error) {
	reader, err := s.client.GetObject(ctx, s.bucket, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return Object{}, classifyS3(err)
	}
	defer reader.Close()

	info, err := reader.Stat()
	if err != nil {
		return Object{}, classifyS3(err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return Object{}, classifyS3(err)
	}
	return Object{
		Artifact: Artifact{
			ID:          id,
			RequestID:   userMeta(info.UserMetadata, "request-id"),
			Language:    userMeta(info.UserMetadata, "language"),
			ContentType: info.ContentType,
			Size:        int64(len(data)),
			CreatedAt:   info.LastModified.UTC(),
		},
		Data: data,
	}, nil
}

// remove deletes the object and drops its read claim. A failed delete keeps
// the claim so the object cannot be read twice.
func (s *S3Store) remove(ctx context.Context, id string) {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(id), minio.RemoveObjectOptions{}); err != nil {
		s.log.Warn("delete artifact failed", slog.String("artifact_id", id), slog.String("error", err.Error()))
		return
	}
	s.claims.release(id)
}

func (s *S3Store) Close() error { return nil }

func classifyS3(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("read artifact: %w", err)
}

// userMeta tolerates both canonical header keys and trimmed keys.
func userMeta(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == key {
			return v
		}
	}
	return ""
}

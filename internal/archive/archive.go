// Package archive keeps raw checkpoint documents in object storage so a run can
// be inspected after its results are persisted.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte) error
}

type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// S3Store writes objects into a single S3 compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	region string

	once      sync.Once
	bucketErr error
}

func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object storage client")
	}
	return &S3Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.once.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketErr = errors.Wrapf(err, "failed to check bucket %s", s.bucket)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			s.bucketErr = errors.Wrapf(err, "failed to create bucket %s", s.bucket)
		}
	})
	return s.bucketErr
}

func (s *S3Store) PutObject(ctx context.Context, key string, data []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return errors.Wrapf(err, "failed to put object %s", key)
	}
	return nil
}

// LocalStore writes objects under a directory on the local filesystem.
type LocalStore struct {
	Root string
}

func (l *LocalStore) PutObject(_ context.Context, key string, data []byte) error {
	dst := filepath.Join(l.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

type Archiver struct {
	store  ObjectStore
	logger zerolog.Logger
}

func NewArchiver(store ObjectStore, logger zerolog.Logger) *Archiver {
	return &Archiver{store: store, logger: logger.With().Str("component", "archive").Logger()}
}

// Archive stores doc under checkpoints/{jobID}/ and returns its key.
func (a *Archiver) Archive(ctx context.Context, jobID string, doc []byte) (string, error) {
	key := fmt.Sprintf("checkpoints/%s/%s.json", jobID, uuid.NewString())
	if err := a.store.PutObject(ctx, key, doc); err != nil {
		return "", err
	}
	a.logger.Debug().Str("job_id", jobID).Str("key", key).Int("bytes", len(doc)).Msg("Checkpoint document archived")
	return key, nil
}

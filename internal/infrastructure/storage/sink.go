package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const s3Scheme = "s3://"

// Uploader puts an object into a bucket.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Sink writes artifacts to a target that is either a local path or an
// s3://bucket/key URL. The uploader is only built when an s3 target is used.
type Sink struct {
	newUploader func(ctx context.Context) (Uploader, error)
	logger      *zap.Logger

	once     sync.Once
	uploader Uploader
	err      error
}

// NewSink creates a Sink. newUploader may be nil when only local targets are used.
func NewSink(newUploader func(ctx context.Context) (Uploader, error), logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{newUploader: newUploader, logger: logger}
}

// ParseS3URL splits s3://bucket/key. ok is false for anything that is not an s3 URL.
func ParseS3URL(target string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(target, s3Scheme)
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", true, fmt.Errorf("invalid s3 target %q: want s3://bucket/key", target)
	}
	return bucket, key, true, nil
}

// Write stores data at target.
func (s *Sink) Write(ctx context.Context, target string, data []byte, contentType string) error {
	bucket, key, isS3, err := ParseS3URL(target)
	if err != nil {
		return err
	}
	if isS3 {
		uploader, err := s.s3(ctx)
		if err != nil {
			return err
		}
		return uploader.Upload(ctx, bucket, key, data, contentType)
	}
	return writeFileAtomic(target, data)
}

func (s *Sink) s3(ctx context.Context) (Uploader, error) {
	s.once.Do(func() {
		if s.newUploader == nil {
			s.err = fmt.Errorf("s3 targets are not configured")
			return
		}
		s.uploader, s.err = s.newUploader(ctx)
	})
	return s.uploader, s.err
}

// writeFileAtomic writes through a temp file in the target directory so readers
// never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

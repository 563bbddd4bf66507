package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingUploader struct {
	bucket, key, contentType string
	data                     []byte
}

func (u *recordingUploader) Upload(_ context.Context, bucket, key string, data []byte, contentType string) error {
	u.bucket, u.key, u.data, u.contentType = bucket, key, data, contentType
	return nil
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		target  string
		bucket  string
		key     string
		isS3    bool
		wantErr bool
	}{
		{target: "out/summary.json"},
		{target: "/var/lib/ingest/metrics.prom"},
		{target: "s3://reports/2024/summary.json", bucket: "reports", key: "2024/summary.json", isS3: true},
		{target: "s3://reports", isS3: true, wantErr: true},
		{target: "s3:///summary.json", isS3: true, wantErr: true},
		{target: "s3://reports/dir/", isS3: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			bucket, key, isS3, err := ParseS3URL(tt.target)
			assert.Equal(t, tt.isS3, isS3)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestSink_WritesLocalFileCreatingParents(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out", "nested", "summary.json")
	sink := NewSink(nil, zap.NewNop())

	require.NoError(t, sink.Write(context.Background(), target, []byte("first"), "application/json"))
	require.NoError(t, sink.Write(context.Background(), target, []byte("second"), "application/json"))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestSink_UploadsS3Targets(t *testing.T) {
	uploader := &recordingUploader{}
	builds := 0
	sink := NewSink(func(context.Context) (Uploader, error) {
		builds++
		return uploader, nil
	}, nil)

	require.NoError(t, sink.Write(context.Background(), "s3://reports/run/metrics.prom", []byte("x 1\n"), "text/plain"))
	require.NoError(t, sink.Write(context.Background(), "s3://reports/run/summary.json", []byte("{}"), "application/json"))

	assert.Equal(t, 1, builds, "uploader is built once")
	assert.Equal(t, "reports", uploader.bucket)
	assert.Equal(t, "run/summary.json", uploader.key)
	assert.Equal(t, "application/json", uploader.contentType)
}

func TestSink_S3Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		err := NewSink(nil, nil).Write(context.Background(), "s3://reports/summary.json", nil, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("uploader construction fails", func(t *testing.T) {
		sink := NewSink(func(context.Context) (Uploader, error) {
			return nil, errors.New("no credentials")
		}, nil)
		err := sink.Write(context.Background(), "s3://reports/summary.json", nil, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no credentials")
	})
}

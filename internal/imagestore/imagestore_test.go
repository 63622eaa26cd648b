package imagestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bitesense/internal/config"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "images")
	store, err := NewLocal(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("should round-trip an image", func(t *testing.T) {
		ref, err := store.Put(ctx, "bite.jpg", []byte{1, 2, 3}, "image/jpeg")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(ref))

		data, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)

		data, err = store.Get(ctx, "bite.jpg")
		require.NoError(t, err, "relative references resolve inside the directory")
		assert.Equal(t, []byte{1, 2, 3}, data)
	})

	t.Run("should strip directories from names", func(t *testing.T) {
		ref, err := store.Put(ctx, "../../escape.jpg", []byte{9}, "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(store.dir, "escape.jpg"), ref)
	})

	t.Run("should refuse references outside the directory", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "secret.txt")
		require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

		_, err := store.Get(ctx, outside)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "../secret.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should report missing images", func(t *testing.T) {
		_, err := store.Get(ctx, filepath.Join(store.dir, "missing.jpg"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := New(ctx, config.StorageConfig{Backend: "none"}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(ctx, config.StorageConfig{Backend: "local", LocalDir: t.TempDir()}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(ctx, config.StorageConfig{Backend: "ftp"}, logger)
	assert.ErrorContains(t, err, "unsupported storage backend")

	_, err = New(ctx, config.StorageConfig{Backend: "minio"}, logger)
	assert.ErrorContains(t, err, "required")
}

func TestNewMinIO_ExistingBucket(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && strings.Trim(r.URL.Path, "/") == "bites":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			created = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	defer srv.Close()

	m, err := NewMinIO(context.Background(), config.MinIOConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "bites",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "bites", m.bucket)
	assert.False(t, created, "an existing bucket is not recreated")
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
		ok               bool
	}{
		{"s3://bites/a.jpg", "bites", "a.jpg", true},
		{"s3://bites/2026/a.jpg", "bites", "2026/a.jpg", true},
		{"s3://bites/", "", "", false},
		{"s3:///a.jpg", "", "", false},
		{"/tmp/a.jpg", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, ok := parseRef(tt.ref)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

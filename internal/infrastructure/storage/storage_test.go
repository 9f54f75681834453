package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureFilename(t *testing.T) {
	tests := map[string]string{
		"me.png":             "me.png",
		"my photo.JPG":       "my_photo.JPG",
		"../../etc/passwd":   "passwd",
		`C:\Users\x\a b.gif`: "a_b.gif",
		"..hidden.png":       "hidden.png",
		"naïve café.jpeg":    "nave_caf.jpeg",
	}
	for in, want := range tests {
		assert.Equal(t, want, SecureFilename(in), in)
	}
}

func TestNewAvatarKey(t *testing.T) {
	key, ct, err := NewAvatarKey("my photo.PNG")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.True(t, strings.HasSuffix(key, "_my_photo.PNG"), key)
	assert.Len(t, strings.SplitN(key, "_", 2)[0], 32)

	other, _, err := NewAvatarKey("my photo.PNG")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	for _, name := range []string{"doc.pdf", "noext", ".png", "shell.php"} {
		_, _, err := NewAvatarKey(name)
		assert.ErrorIs(t, err, ErrUnsupportedFileType, name)
	}
}

func TestLocalAvatarStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewLocalAvatarStore(dir, "/static/uploads/")
	require.NoError(t, err)

	url, err := store.Save(context.Background(), "abc_me.png", "image/png", bytes.NewReader([]byte("PNGDATA")))
	require.NoError(t, err)
	assert.Equal(t, "/static/uploads/abc_me.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "abc_me.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	_, err = store.Save(context.Background(), "abc_me.png", "image/png", bytes.NewReader(nil))
	assert.Error(t, err, "existing keys are never overwritten")

	_, err = store.Save(context.Background(), "../escape.png", "image/png", bytes.NewReader(nil))
	assert.Error(t, err)
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errors.New("connection reset")
	}
	r.sent = true
	return copy(p, "PNG"), nil
}

func (r *failingReader) Seek(int64, int) (int64, error) { return 0, nil }

func TestLocalAvatarStoreRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalAvatarStore(dir, "/static/uploads")
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "abc_me.png", "image/png", &failingReader{})
	assert.ErrorContains(t, err, "connection reset")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.Save(context.Background(), "abc_me.png", "image/png", bytes.NewReader([]byte("PNGDATA")))
	assert.NoError(t, err, "the key is free again")
}

func TestS3AvatarStore(t *testing.T) {
	var (
		mu       sync.Mutex
		method   string
		path     string
		received []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, received = r.Method, r.URL.Path, body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3AvatarStore(context.Background(), S3Config{
		Bucket:    "avatars",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test-secret",
		KeyPrefix: "users",
	})
	require.NoError(t, err)

	url, err := store.Save(context.Background(), "abc_me.png", "image/png", bytes.NewReader([]byte("PNGDATA")))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/avatars/users/abc_me.png", url)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/avatars/users/abc_me.png", path)
	assert.Contains(t, string(received), "PNGDATA")
}

func TestS3AvatarStoreRequiresBucket(t *testing.T) {
	_, err := NewS3AvatarStore(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalAvatarStore writes avatars into a directory served under urlPrefix.
type LocalAvatarStore struct {
	dir       string
	urlPrefix string
}

// NewLocalAvatarStore creates the upload directory if needed.
func NewLocalAvatarStore(dir, urlPrefix string) (*LocalAvatarStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalAvatarStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Save copies body into dir/key.
func (s *LocalAvatarStore) Save(_ context.Context, key, _ string, body io.ReadSeeker) (string, error) {
	if key != filepath.Base(key) {
		return "", fmt.Errorf("invalid avatar key %q", key)
	}

	name := filepath.Join(s.dir, key)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create avatar file: %w", err)
	}

	_, err = io.Copy(f, io.LimitReader(body, MaxAvatarSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to write avatar file: %w", err)
	}
	return path.Join(s.urlPrefix, key), nil
}

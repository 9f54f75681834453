// Package storage keeps uploaded avatar images on local disk or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxAvatarSize is the largest accepted avatar upload, in bytes.
const MaxAvatarSize = 2 << 20

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

var allowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// AvatarStore saves an avatar under key and returns the URL clients should use.
type AvatarStore interface {
	Save(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces name to a safe base name of ASCII letters, digits, '_', '.' and '-'.
func SecureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// NewAvatarKey validates the upload's extension and returns a collision-free
// storage key together with the content type.
func NewAvatarKey(filename string) (key, contentType string, err error) {
	safe := SecureFilename(filename)
	ext := strings.ToLower(filepath.Ext(safe))
	contentType, ok := allowedExtensions[ext]
	if !ok || safe == ext {
		return "", "", ErrUnsupportedFileType
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + safe, contentType, nil
}

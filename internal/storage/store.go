// Package storage reads stored receipt images. The pipeline only ever needs
// the read path; writing objects belongs to the ingestion transport.
package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Store fetches stored object bytes by (bucket, key).
type Store interface {
	Get(ctx context.Context, bucket, key string) (data []byte, mediaType string, err error)
}

// FileStore serves objects from a local directory tree: <root>/<bucket>/<key>.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Get(_ context.Context, bucket, key string) ([]byte, string, error) {
	path := filepath.Join(s.root, filepath.Clean(bucket), filepath.Clean(key))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, "", fmt.Errorf("object path escapes storage root")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, MediaTypeForKey(key), nil
}

// MediaTypeForKey guesses a media type from the object key extension.
func MediaTypeForKey(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	switch strings.TrimPrefix(ext, ".") {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

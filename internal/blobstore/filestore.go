package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

var (
	errMissingFilesystem = errors.New("blobstore: filesystem is required")
	errMissingBaseURL    = errors.New("blobstore: public base url is required")
)

// FileStoreConfig configures a filesystem-backed store.
type FileStoreConfig struct {
	Fs            afero.Fs
	Root          string
	PublicBaseURL string
}

// FileStore keeps blobs on an afero filesystem and serves them over HTTP.
type FileStore struct {
	fs      afero.Fs
	baseURL string
}

// NewFileStore constructs a FileStore rooted at cfg.Root.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Fs == nil {
		return nil, errMissingFilesystem
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	fs := cfg.Fs
	if root := strings.TrimSpace(cfg.Root); root != "" {
		if err := fs.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("blobstore: create root: %w", err)
		}
		fs = afero.NewBasePathFs(fs, root)
	}
	return &FileStore{fs: fs, baseURL: baseURL}, nil
}

func (s *FileStore) Upload(ctx context.Context, namespace Namespace, objectPath string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateObjectPath(objectPath); err != nil {
		return err
	}
	target := s.filePath(namespace, objectPath)
	if err := s.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return fmt.Errorf("blobstore: create directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, target, data, 0o644); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", target, err)
	}
	return nil
}

func (s *FileStore) PublicURL(namespace Namespace, objectPath string) string {
	return joinPublicURL(s.baseURL, namespace, objectPath)
}

func (s *FileStore) ObjectPath(namespace Namespace, publicURL string) (string, error) {
	return splitPublicURL(s.baseURL, namespace, publicURL)
}

func (s *FileStore) Delete(ctx context.Context, namespace Namespace, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateObjectPath(objectPath); err != nil {
		return err
	}
	err := s.fs.Remove(s.filePath(namespace, objectPath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: delete: %w", err)
	}
	return nil
}

// Handler serves stored blobs. Mount it under the path of the public base URL.
// Only objects resolve; directory paths answer 404 so account folders cannot
// be enumerated.
func (s *FileStore) Handler() http.Handler {
	return http.FileServer(objectsOnly{FileSystem: afero.NewHttpFs(s.fs).Dir("/")})
}

type objectsOnly struct {
	http.FileSystem
}

func (o objectsOnly) Open(name string) (http.File, error) {
	file, err := o.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

func (s *FileStore) filePath(namespace Namespace, objectPath string) string {
	return path.Join("/", string(namespace), objectPath)
}

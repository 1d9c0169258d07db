package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/isdmx/agentbox/sandbox"
)

// ArtifactStorage holds artifact bytes. Keys are slash-separated and
// relative; the returned stored path is what Open accepts.
type ArtifactStorage interface {
	Backend() StorageBackend
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, storedPath string) (io.ReadCloser, error)
}

// LocalStorage keeps artifacts under a directory of an afero file system.
type LocalStorage struct {
	fs   afero.Fs
	root string
}

var _ ArtifactStorage = (*LocalStorage)(nil)

func NewLocalStorage(fs afero.Fs, root string) *LocalStorage {
	return &LocalStorage{fs: fs, root: root}
}

func (*LocalStorage) Backend() StorageBackend { return StorageLocal }

func (l *LocalStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	dst, err := l.resolve(key)
	if err != nil {
		return "", err
	}

	if err := l.fs.MkdirAll(filepath.Dir(dst), sandbox.DirPermission); err != nil {
		return "", sandbox.NewError(sandbox.KindWorkspace, "store_artifact", "failed to create artifact directory", err)
	}

	f, err := l.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, sandbox.FilePermission)
	if err != nil {
		return "", sandbox.NewError(sandbox.KindWorkspace, "store_artifact", "failed to create artifact file", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", sandbox.NewError(sandbox.KindArtifactTransfer, "store_artifact", "failed to write artifact", err)
	}
	if err := f.Close(); err != nil {
		return "", sandbox.NewError(sandbox.KindArtifactTransfer, "store_artifact", "failed to close artifact", err)
	}
	return dst, nil
}

func (l *LocalStorage) Open(_ context.Context, storedPath string) (io.ReadCloser, error) {
	rel, err := filepath.Rel(l.root, storedPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, sandbox.InvalidRequest("open_artifact", fmt.Sprintf("%s is outside the artifact directory", storedPath))
	}

	f, err := l.fs.Open(storedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sandbox.NewError(sandbox.KindArtifactNotFound, "open_artifact", storedPath, err)
		}
		return nil, sandbox.NewError(sandbox.KindArtifactTransfer, "open_artifact", storedPath, err)
	}
	return f, nil
}

func (l *LocalStorage) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", sandbox.InvalidRequest("store_artifact", fmt.Sprintf("invalid artifact key %q", key))
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

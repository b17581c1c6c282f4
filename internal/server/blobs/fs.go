package blobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/filex"
)

// FileSystem stores each blob as a file under root. Keys map to relative
// paths; writes are atomic.
type FileSystem struct {
	root string
}

func NewFileSystem(root string) (*FileSystem, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	return &FileSystem{root: abs}, nil
}

func (s *FileSystem) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", common.NewValidationError("key", fmt.Sprintf("invalid blob key %q", key))
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileSystem) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(p, data, 0o640); err != nil {
		return common.Transient("put blob", err)
	}
	return nil
}

func (s *FileSystem) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, common.Transient("get blob", err)
	}
	return b, nil
}

func (s *FileSystem) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.Transient("delete blob", err)
	}
	return nil
}

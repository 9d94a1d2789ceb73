// Package storage persists optimized outputs.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

const metaSuffix = ".meta.json"

// Local writes outputs below a root directory.  Bucket maps to a
// subdirectory and Path to the file name; both are confined to the root.
type Local struct {
	root string
	perm os.FileMode
}

// NewLocal creates a Local adapter rooted at dir, creating it if needed.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "local.new",
			fmt.Errorf("%w: mkdir %s: %v", apperrors.ErrStorageUnavailable, dir, err))
	}
	return &Local{root: dir, perm: perm}, nil
}

// Root returns the directory outputs are written below.
func (l *Local) Root() string { return l.root }

// resolve maps key to a path; cleaning against "/" keeps ".." inside the root.
func (l *Local) resolve(key core.StorageKey) (string, error) {
	name := filepath.Clean("/" + key.Path)
	if name == "/" {
		return "", apperrors.New(apperrors.CategoryStorage, "local.resolve", fmt.Errorf("empty key path"))
	}
	return filepath.Join(l.root, filepath.Clean("/"+key.Bucket), name), nil
}

// Put writes r to key through a temporary file so readers never observe a
// partial output.  Non-empty meta is stored beside it as JSON.
func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.create", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.copy", err)
	}
	if err := tmp.Chmod(l.perm); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.chmod", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.close", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.rename", err)
	}

	if len(meta) == 0 {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
	}
	if err := os.WriteFile(path+metaSuffix, data, l.perm); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get", fmt.Errorf("key not found: %s/%s", key.Bucket, key.Path))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	return f, nil
}

// Meta reads the metadata stored with key, or nil when there is none.
func (l *Local) Meta(ctx context.Context, key core.StorageKey) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path + metaSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	meta := make(map[string]string)
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	return meta, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	_ = os.Remove(path + metaSuffix)
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	path, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}

package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var validSnapshotName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FileStore keeps one file per snapshot name under a directory. Writes go
// through a temp file and a rename so readers never see a partial blob.
type FileStore struct {
	dir string
	ext string
}

// NewFileStore creates dir if needed. ext is appended to snapshot names
// when building file paths; it defaults to ".snapshot".
func NewFileStore(dir, ext string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if ext == "" {
		ext = ".snapshot"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &FileStore{dir: dir, ext: ext}, nil
}

func (s *FileStore) path(name string) (string, error) {
	if !validSnapshotName.MatchString(name) {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(s.dir, name+s.ext), nil
}

func (s *FileStore) Put(ctx context.Context, name string, blob []byte) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	target, err := s.path(name)
	if err != nil {
		return Entry{}, err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return Entry{}, fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		cleanup()
		return Entry{}, fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return Entry{}, fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Entry{}, fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		cleanup()
		return Entry{}, fmt.Errorf("rename snapshot: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return Entry{}, fmt.Errorf("stat snapshot: %w", err)
	}
	return Entry{Name: name, Revision: 1, Size: int(info.Size()), UpdatedAt: info.ModTime()}, nil
}

func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.path(name)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(ErrNotFound, "get snapshot", goerr.V("name", name), goerr.V("path", target))
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return blob, nil
}

func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dir: %w", err)
	}
	var out []Entry
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), s.ext) || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:      strings.TrimSuffix(de.Name(), s.ext),
			Revision:  1,
			Size:      int(info.Size()),
			UpdatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return goerr.Wrap(ErrNotFound, "delete snapshot", goerr.V("name", name))
		}
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

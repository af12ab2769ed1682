package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const stagingSuffix = ".staging"

// LocalStore артефакты в папке на диске
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model folder: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) path(name string) string { return filepath.Join(s.dir, name) }

func (s *LocalStore) Stage(ctx context.Context, name string, write func(io.Writer) error) (Staged, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.dir, name+".*"+stagingSuffix)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &localStaged{store: s, name: name, tmp: f.Name()}, nil
}

type localStaged struct {
	store *LocalStore
	name  string
	tmp   string
	done  bool
}

func (l *localStaged) Name() string     { return l.name }
func (l *localStaged) Location() string { return l.store.path(l.name) }

// Commit переименовывает файл; существующий артефакт с тем же именем не перезаписывается
func (l *localStaged) Commit(ctx context.Context) error {
	if l.done {
		return errors.New("artifact already committed or discarded")
	}
	dst := l.store.path(l.name)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("artifact %s already exists", l.name)
	}
	if err := os.Rename(l.tmp, dst); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	l.done = true
	return nil
}

func (l *localStaged) Discard() error {
	if l.done {
		return nil
	}
	l.done = true
	if err := os.Remove(l.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, err
}

func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func (s *LocalStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), stagingSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

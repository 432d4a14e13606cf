package ports

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalFilesystem implements the Filesystem port against a project
// folder on the local disk. All paths are confined to the root.
type LocalFilesystem struct {
	root string
}

// NewLocalFilesystem creates a project-scoped filesystem tool.
func NewLocalFilesystem(root string) *LocalFilesystem {
	return &LocalFilesystem{root: root}
}

// resolve joins path to the root and rejects escapes.
func (l *LocalFilesystem) resolve(path string) (string, error) {
	full := filepath.Join(l.root, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, filepath.Clean(l.root)) {
		return "", fmt.Errorf("path %q escapes project root", path)
	}
	return full, nil
}

func (l *LocalFilesystem) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (l *LocalFilesystem) Write(ctx context.Context, path string, content []byte) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0o644)
}

func (l *LocalFilesystem) Delete(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

func (l *LocalFilesystem) List(ctx context.Context, dir string) ([]FileEntry, error) {
	full, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	result := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, FileEntry{
			Path:  filepath.Join(dir, entry.Name()),
			IsDir: entry.IsDir(),
			Size:  info.Size(),
		})
	}
	return result, nil
}

func (l *LocalFilesystem) Search(ctx context.Context, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			rel, relErr := filepath.Rel(l.root, path)
			if relErr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	return matches, err
}

// Package local reads feed files from a mounted filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/source"
)

// Adapter treats Credentials.Host as a root directory. SourceDir is resolved
// under it; an empty host means SourceDir is used as given.
type Adapter struct{}

func New() Adapter { return Adapter{} }

func (Adapter) Connect(_ context.Context, creds domain.Credentials, _ map[string]string) (source.Session, error) {
	if creds.Host != "" {
		info, err := os.Stat(creds.Host)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("source root %s is not a directory", creds.Host)
		}
	}
	return &session{root: creds.Host}, nil
}

type session struct {
	root string
}

func (s *session) dir(sourceDir string) string {
	if s.root == "" {
		return sourceDir
	}
	return filepath.Join(s.root, sourceDir)
}

func (s *session) Transfer(_ context.Context, req source.Request) (int, error) {
	dir := s.dir(req.SourceDir)

	if req.SkipListing {
		n, err := copyOne(filepath.Join(dir, req.Pattern), req.DestDir, req.Pattern)
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return n, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	copied := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := source.Match(req.Pattern, e.Name())
		if err != nil {
			return copied, err
		}
		if !ok {
			continue
		}
		n, err := copyOne(filepath.Join(dir, e.Name()), req.DestDir, e.Name())
		if err != nil {
			return copied, err
		}
		copied += n
	}
	return copied, nil
}

func (s *session) Close() error { return nil }

func copyOne(src, destDir, name string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := source.WriteFile(destDir, name, f); err != nil {
		return 0, err
	}
	return 1, nil
}

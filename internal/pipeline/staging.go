package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Staging owns the local directories files pass through. Every directory
// lives under Root.
type Staging struct {
	Root string
}

// Dir returns the absolute staging directory for a resolved template.
func (s Staging) Dir(rel string) (string, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, filepath.FromSlash(rel))
	if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("staging dir %q escapes root %q", rel, s.Root)
	}
	return dir, nil
}

// Prepare creates dir. Existing directories are fine.
func (s Staging) Prepare(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Remove deletes dir and everything under it. A missing dir is fine.
func (s Staging) Remove(dir string) error {
	return os.RemoveAll(dir)
}

// Files lists regular files under dir as slash separated relative paths,
// sorted.
func (s Staging) Files(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

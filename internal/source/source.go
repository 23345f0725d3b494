// Package source pulls feed files from external systems into local staging.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// Request describes one pull of one feed for one date. Pattern and SourceDir
// are already resolved for Date. With SkipListing, Pattern is taken as the
// exact object name and the source directory is never listed.
type Request struct {
	Container   string
	Pattern     string
	SourceDir   string
	DestDir     string
	SkipListing bool
	Date        time.Time
}

// Session is a connected source. Transfer returns the number of files
// written to DestDir; zero is not an error here.
type Session interface {
	Transfer(ctx context.Context, req Request) (int, error)
	Close() error
}

// Adapter connects to one kind of source system.
type Adapter interface {
	Connect(ctx context.Context, creds domain.Credentials, opts map[string]string) (Session, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, creds domain.Credentials, opts map[string]string) (Session, error)

func (f AdapterFunc) Connect(ctx context.Context, creds domain.Credentials, opts map[string]string) (Session, error) {
	return f(ctx, creds, opts)
}

// Match reports whether name matches a shell style pattern. An empty
// pattern matches everything.
func Match(pattern, name string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return false, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return ok, nil
}

// WriteFile streams r into destDir/name, replacing any existing file.
func WriteFile(destDir, name string, r io.Reader) error {
	dst := filepath.Join(destDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return f.Close()
}

// Package objectstore is the durable store the pipeline lands files in.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// Store is the narrow contract the pipeline and reconciler need.
type Store interface {
	Upload(ctx context.Context, container, key, localPath string) error
	List(ctx context.Context, container, prefix string) (domain.ObjectSnapshot, error)
	Delete(ctx context.Context, container, key string) error
}

// Key joins a target prefix and a relative file path into an object key.
func Key(prefix, rel string) string {
	return strings.TrimPrefix(path.Join(prefix, rel), "/")
}

// Prefix normalizes p to end in exactly one slash. Empty stays empty.
func Prefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ValidateDestination checks that d can be dialed.
func ValidateDestination(d domain.Destination) error {
	if strings.TrimSpace(d.Endpoint) == "" {
		return errors.New("destination endpoint is required")
	}
	if strings.Contains(d.Endpoint, "://") {
		return fmt.Errorf("destination endpoint must not include scheme: %q", d.Endpoint)
	}
	if strings.TrimSpace(d.AccessKey) == "" || strings.TrimSpace(d.SecretKey) == "" {
		return errors.New("destination credentials are required")
	}
	if strings.TrimSpace(d.Container) == "" {
		return errors.New("destination container is required")
	}
	return nil
}

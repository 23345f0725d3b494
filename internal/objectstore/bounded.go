package objectstore

import (
	"context"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// WithTimeout bounds every call on s by d. A non-positive d returns s.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	if b, ok := s.(*bounded); ok && b.timeout <= d {
		return b
	}
	return &bounded{next: s, timeout: d}
}

type bounded struct {
	next    Store
	timeout time.Duration
}

func (b *bounded) Upload(ctx context.Context, container, key, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Upload(ctx, container, key, localPath)
}

func (b *bounded) List(ctx context.Context, container, prefix string) (domain.ObjectSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.List(ctx, container, prefix)
}

func (b *bounded) Delete(ctx context.Context, container, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Delete(ctx, container, key)
}

package testutil

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// ObjectStore is an in-memory durable store. Failures can be injected per
// key or after a number of successful uploads.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte

	// FailUploadAfter makes every upload after the first n fail. Negative
	// disables it.
	FailUploadAfter int
	FailDelete      map[string]error
	FailList        error

	uploads int
	Deleted []string
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects:         make(map[string]map[string][]byte),
		FailUploadAfter: -1,
		FailDelete:      make(map[string]error),
	}
}

// Put seeds an object.
func (s *ObjectStore) Put(container, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(container)[key] = data
}

func (s *ObjectStore) bucket(container string) map[string][]byte {
	b, ok := s.objects[container]
	if !ok {
		b = make(map[string][]byte)
		s.objects[container] = b
	}
	return b
}

func (s *ObjectStore) Upload(_ context.Context, container, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUploadAfter >= 0 && s.uploads >= s.FailUploadAfter {
		return fmt.Errorf("upload %s/%s: injected failure", container, key)
	}
	s.uploads++
	s.bucket(container)[key] = data
	return nil
}

func (s *ObjectStore) List(_ context.Context, container, prefix string) (domain.ObjectSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != nil {
		return domain.ObjectSnapshot{}, s.FailList
	}
	var names []string
	for k := range s.objects[container] {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	return domain.NewObjectSnapshot(container, prefix, names, time.Now()), nil
}

func (s *ObjectStore) Delete(_ context.Context, container, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.FailDelete[key]; ok {
		return err
	}
	delete(s.bucket(container), key)
	s.Deleted = append(s.Deleted, key)
	return nil
}

// Keys returns the sorted keys in container under prefix.
func (s *ObjectStore) Keys(container, prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects[container] {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Get returns an object's content.
func (s *ObjectStore) Get(container, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[container][key]
	return data, ok
}

// StalledStore never answers: every call waits for its context and
// returns the context's error.
type StalledStore struct {
	mu    sync.Mutex
	Calls int
}

func (s *StalledStore) wait(ctx context.Context) error {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (s *StalledStore) Upload(ctx context.Context, _, _, _ string) error { return s.wait(ctx) }

func (s *StalledStore) List(ctx context.Context, _, _ string) (domain.ObjectSnapshot, error) {
	return domain.ObjectSnapshot{}, s.wait(ctx)
}

func (s *StalledStore) Delete(ctx context.Context, _, _ string) error { return s.wait(ctx) }

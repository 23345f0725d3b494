package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rudolphlogin/feedload/internal/circuitbreaker"
	"github.com/rudolphlogin/feedload/internal/domain"
)

var ErrUnknownSource = errors.New("unknown source environment")

// Registry maps source-environment names to adapters. Names are case
// insensitive.
type Registry struct {
	adapters map[string]Adapter
	aliases  map[string]string
	breaker  *circuitbreaker.CircuitBreaker
	timeout  time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		aliases:  make(map[string]string),
	}
}

// WithBreaker guards Connect per source host.
func (r *Registry) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Registry {
	r.breaker = cb
	return r
}

// WithConnectTimeout bounds each adapter's Connect by d.
func (r *Registry) WithConnectTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

func (r *Registry) Register(name string, a Adapter) {
	r.adapters[normalize(name)] = a
}

// Alias makes alias resolve to an already registered adapter.
func (r *Registry) Alias(alias, name string) error {
	if _, ok := r.adapters[normalize(name)]; !ok {
		return fmt.Errorf("alias %q: %w: %q", alias, ErrUnknownSource, name)
	}
	r.aliases[normalize(alias)] = normalize(name)
	return nil
}

func (r *Registry) Lookup(name string) (Adapter, error) {
	key := normalize(name)
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return a, nil
}

// Validate fails on the first name that has no adapter.
func (r *Registry) Validate(names ...string) error {
	for _, n := range names {
		if _, err := r.Lookup(n); err != nil {
			return err
		}
	}
	return nil
}

// Names lists registered adapters and aliases.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters)+len(r.aliases))
	for n := range r.adapters {
		out = append(out, n)
	}
	for n := range r.aliases {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Connect opens a session for feed. Unknown sources are application errors;
// connection failures are system errors. Sessions must not keep the context
// passed to the adapter.
func (r *Registry) Connect(ctx context.Context, feed domain.FeedConfig) (Session, error) {
	a, err := r.Lookup(feed.SourceEnv)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindApplication, Code: domain.CodeUnknownSource, Msg: "feed " + feed.Key(), Err: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var sess Session
	err = r.breaker.Do(feed.Source.Host, func() error {
		var cerr error
		sess, cerr = a.Connect(ctx, feed.Source, feed.Options)
		return cerr
	})
	if err != nil {
		return nil, domain.System(err, "connect to %s source %q", feed.SourceEnv, feed.Source.Host)
	}
	return sess, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

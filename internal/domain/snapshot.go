package domain

import (
	"sort"
	"strings"
	"time"
)

// ObjectSnapshot is the set of object names under a prefix at one point in
// time. Snapshots are compared by name only; object timestamps are never
// trusted because clocks of the store and this host may disagree.
type ObjectSnapshot struct {
	Container string
	Prefix    string
	Names     map[string]struct{}
	TakenAt   time.Time
}

func NewObjectSnapshot(container, prefix string, names []string, takenAt time.Time) ObjectSnapshot {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return ObjectSnapshot{Container: container, Prefix: prefix, Names: set, TakenAt: takenAt}
}

func (s ObjectSnapshot) Len() int { return len(s.Names) }

func (s ObjectSnapshot) Contains(name string) bool {
	_, ok := s.Names[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s ObjectSnapshot) Sorted() []string {
	out := make([]string, 0, len(s.Names))
	for n := range s.Names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Extra returns post - pre, limited to names under prefix, sorted.
func Extra(prefix string, pre, post ObjectSnapshot) []string {
	var out []string
	for n := range post.Names {
		if pre.Contains(n) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(n, prefix) {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Package feedname expands date placeholders in feed naming templates.
package feedname

import (
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// Resolver applies an ordered rule list. Safe for concurrent use.
type Resolver struct {
	rules []compiledRule
}

func New(rules []Rule) (*Resolver, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	return &Resolver{rules: compiled}, nil
}

// Resolve applies every rule in order. Rules see the output of earlier
// rules, so a rendered date that happens to match a later pattern is
// replaced again.
func (r *Resolver) Resolve(template string, date time.Time) string {
	out := template
	for _, rule := range r.rules {
		rendered := rule.format.FormatString(date)
		out = rule.re.ReplaceAllLiteralString(out, rendered)
	}
	return out
}

// Paths are the four templates of a feed resolved for one date.
type Paths struct {
	FileName   string
	SourceDir  string
	StagingDir string
	TargetDir  string
}

// ResolveFeed resolves all naming templates of feed with the same date.
func (r *Resolver) ResolveFeed(feed domain.FeedConfig, date time.Time) Paths {
	return Paths{
		FileName:   r.Resolve(feed.FileName, date),
		SourceDir:  r.Resolve(feed.SourceDir, date),
		StagingDir: r.Resolve(feed.StagingDir, date),
		TargetDir:  r.Resolve(feed.TargetDir, date),
	}
}

package feedname

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/lestrrat-go/strftime"
	"gopkg.in/yaml.v3"
)

// Rule replaces every match of Pattern (case-insensitive regular expression)
// with the execution date rendered by Format (strftime layout).
type Rule struct {
	Pattern string `yaml:"pattern"`
	Format  string `yaml:"format"`
}

// DefaultRules is the substitution order used when no rules file is set.
var DefaultRules = []Rule{
	{Pattern: `\{YYYYMMDD\}`, Format: "%Y%m%d"},
	{Pattern: `\{YYYY-MM-DD\}`, Format: "%Y-%m-%d"},
	{Pattern: `\{YYMMDD\}`, Format: "%y%m%d"},
	{Pattern: `\{YYYY\}`, Format: "%Y"},
	{Pattern: `\{MM\}`, Format: "%m"},
	{Pattern: `\{DD\}`, Format: "%d"},
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML document of the form:
//
//	rules:
//	  - pattern: '\{YYYYMMDD\}'
//	    format: '%Y%m%d'
func ParseRules(input []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(input, &f); err != nil {
		return nil, fmt.Errorf("decode naming rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("naming rules: rules must be non-empty")
	}
	return f.Rules, nil
}

// LoadRules reads rules from path, or returns DefaultRules when path is empty.
func LoadRules(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read naming rules: %w", err)
	}
	return ParseRules(data)
}

type compiledRule struct {
	re     *regexp.Regexp
	format *strftime.Strftime
}

func compile(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("naming rule %d: pattern is empty", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("naming rule %d: pattern %q: %w", i, r.Pattern, err)
		}
		f, err := strftime.New(r.Format)
		if err != nil {
			return nil, fmt.Errorf("naming rule %d: format %q: %w", i, r.Format, err)
		}
		out = append(out, compiledRule{re: re, format: f})
	}
	return out, nil
}

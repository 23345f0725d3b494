package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// Entry is one scheduled run in the schedule file.
//
//	- name: eu-fr-sftp-fetch
//	  cron: "30 2 * * *"
//	  timezone: Europe/Paris
//	  pass: getfiles
//	  zone: EU
//	  country: FR
//	  source_env: sftp
//	  program: marketing
//	  process: getfiles
type Entry struct {
	Name      string `yaml:"name"`
	Cron      string `yaml:"cron"`
	Timezone  string `yaml:"timezone"`
	Pass      string `yaml:"pass"`
	Zone      string `yaml:"zone"`
	Country   string `yaml:"country"`
	SourceEnv string `yaml:"source_env"`
	Program   string `yaml:"program"`
	Process   string `yaml:"process"`
	Force     bool   `yaml:"force"`
}

// Request builds the run request fired for this entry.
func (e Entry) Request(workflowID string) domain.RunRequest {
	return domain.RunRequest{
		Pass:       domain.Pass(strings.ToLower(e.Pass)),
		Zone:       e.Zone,
		Country:    e.Country,
		SourceEnv:  e.SourceEnv,
		WorkflowID: workflowID,
		Program:    e.Program,
		Process:    e.Process,
		Force:      e.Force,
	}
}

func (e Entry) timezone() string {
	if e.Timezone == "" {
		return "UTC"
	}
	return e.Timezone
}

// LoadEntries reads and validates a schedule file.
func LoadEntries(path string, parser *CronParser) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return ParseEntries(data, parser)
}

// ParseEntries decodes a YAML list of entries and checks every one of them.
func ParseEntries(data []byte, parser *CronParser) ([]Entry, error) {
	var entries []Entry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("entry %d: name is required", i))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("entry %q: duplicate name", e.Name))
		}
		seen[e.Name] = true

		switch domain.Pass(strings.ToLower(e.Pass)) {
		case domain.PassGetFiles, domain.PassDataLoad:
		default:
			errs = append(errs, fmt.Errorf("entry %q: pass must be getfiles or dataload, got %q", e.Name, e.Pass))
		}
		if e.Zone == "" || e.Country == "" || e.SourceEnv == "" || e.Program == "" || e.Process == "" {
			errs = append(errs, fmt.Errorf("entry %q: zone, country, source_env, program and process are required", e.Name))
		}
		if _, err := parser.Parse(e.Cron, e.timezone()); err != nil {
			errs = append(errs, fmt.Errorf("entry %q: %w", e.Name, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return entries, nil
}

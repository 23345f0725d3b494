// Package yamlstore reads feed and process configuration from a YAML file.
// ${VAR} references are expanded from the environment before decoding so
// credentials stay out of the file.
package yamlstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/store/memory"
)

type file struct {
	Processes []process `yaml:"processes"`
	Feeds     []feed    `yaml:"feeds"`
}

type process struct {
	Program string `yaml:"program"`
	Process string `yaml:"process"`
	ID      int64  `yaml:"id"`
}

type feed struct {
	SourceID   int64  `yaml:"source_id"`
	FeedID     int64  `yaml:"feed_id"`
	Active     *bool  `yaml:"active"`
	Zone       string `yaml:"zone"`
	Country    string `yaml:"country"`
	SourceName string `yaml:"source_name"`
	SourceEnv  string `yaml:"source_env"`

	Frequency string `yaml:"frequency"`
	DayOfRun  int    `yaml:"day_of_run"`

	FileName   string `yaml:"file_name"`
	SourceDir  string `yaml:"source_dir"`
	StagingDir string `yaml:"staging_dir"`
	TargetDir  string `yaml:"target_dir"`

	SourceContainer string            `yaml:"source_container"`
	Source          credentials       `yaml:"source"`
	Options         map[string]string `yaml:"options"`

	Destination destination `yaml:"destination"`
	Load        load        `yaml:"load"`
}

type credentials struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type destination struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Container string `yaml:"container"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type load struct {
	StagingTable   string `yaml:"staging_table"`
	MainTable      string `yaml:"main_table"`
	StagingColumns string `yaml:"staging_columns"`
	MainColumns    string `yaml:"main_columns"`
	RawPrefix      string `yaml:"raw_prefix"`
	MainContainer  string `yaml:"main_container"`
	MainPrefix     string `yaml:"main_prefix"`
}

func (f feed) config() domain.FeedConfig {
	return domain.FeedConfig{
		SourceID:        f.SourceID,
		FeedID:          f.FeedID,
		Zone:            f.Zone,
		Country:         f.Country,
		SourceName:      f.SourceName,
		SourceEnv:       f.SourceEnv,
		Frequency:       domain.ParseFrequency(f.Frequency),
		DayOfRun:        f.DayOfRun,
		FileName:        f.FileName,
		SourceDir:       f.SourceDir,
		StagingDir:      f.StagingDir,
		TargetDir:       f.TargetDir,
		SourceContainer: f.SourceContainer,
		Source:          domain.Credentials(f.Source),
		Options:         f.Options,
		Destination:     domain.Destination(f.Destination),
		Load:            domain.LoadConfig(f.Load),
	}
}

// Load reads path into a memory store. Inactive feeds are dropped.
func Load(path string) (*memory.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a feeds document.
func Parse(data []byte) (*memory.Store, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode feeds file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	store := memory.New()
	for _, p := range f.Processes {
		store.AddProcess(p.Program, p.Process, p.ID)
	}
	for _, fd := range f.Feeds {
		if fd.Active != nil && !*fd.Active {
			continue
		}
		store.AddFeeds(fd.config())
	}
	return store, nil
}

func (f file) validate() error {
	var errs []error
	procIDs := make(map[int64]bool)
	for i, p := range f.Processes {
		if p.Program == "" || p.Process == "" || p.ID <= 0 {
			errs = append(errs, fmt.Errorf("process %d: program, process and a positive id are required", i))
		}
		if procIDs[p.ID] {
			errs = append(errs, fmt.Errorf("process %d: duplicate id %d", i, p.ID))
		}
		procIDs[p.ID] = true
	}

	feedIDs := make(map[int64]bool)
	for i, fd := range f.Feeds {
		if fd.FeedID <= 0 {
			errs = append(errs, fmt.Errorf("feed %d: feed_id must be positive", i))
			continue
		}
		if feedIDs[fd.FeedID] {
			errs = append(errs, fmt.Errorf("feed %d: duplicate feed_id", fd.FeedID))
		}
		feedIDs[fd.FeedID] = true
		if fd.Zone == "" || fd.Country == "" || fd.SourceEnv == "" {
			errs = append(errs, fmt.Errorf("feed %d: zone, country and source_env are required", fd.FeedID))
		}
		if fd.Destination.Container == "" {
			errs = append(errs, fmt.Errorf("feed %d: destination.container is required", fd.FeedID))
		}
	}
	return errors.Join(errs...)
}

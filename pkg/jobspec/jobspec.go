// Package jobspec loads the job manifest: the per-job description of
// where the uploaded Terraform project lives, which stage services handle
// the handoff stages, and which resource addresses participate in
// interpretation.
package jobspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is a job manifest.
type Spec struct {
	// Name is an operator-facing label for the job.
	Name string `yaml:"name" json:"name"`

	// Project locates the uploaded Terraform project archive.
	Project ProjectSource `yaml:"project" json:"project"`

	// Stages holds the handoff endpoints for the service-backed stages.
	Stages StageEndpoints `yaml:"stages" json:"stages"`

	// Filters narrows which resource addresses are interpreted.
	Filters Filters `yaml:"filters" json:"filters"`
}

// ProjectSource locates a project archive in the project store.
type ProjectSource struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Key    string `yaml:"key" json:"key"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// Endpoint overrides the store endpoint for S3-compatible backends.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// StageEndpoints names the service URL for each handoff stage. The parsing
// stage runs in-process and has no endpoint.
type StageEndpoints struct {
	Planning  string `yaml:"planning" json:"planning"`
	Enriching string `yaml:"enriching" json:"enriching"`
	Costing   string `yaml:"costing" json:"costing"`
}

// Filters is a glob include/exclude pair over resource addresses.
// Includes default to everything; excludes take precedence.
type Filters struct {
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Load reads and validates a job spec from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json
// for JSON. If the extension is unrecognized, YAML is attempted first.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job spec not found: %s", path)
		}
		return nil, fmt.Errorf("read job spec: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a job spec from raw bytes. The path
// parameter is used only for format detection and error messages.
func LoadFromBytes(data []byte, path string) (*Spec, error) {
	if len(data) == 0 {
		return nil, errors.New("job spec is empty")
	}

	var spec Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse job spec json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse job spec yaml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &spec); err != nil {
			if jsonErr := json.Unmarshal(data, &spec); jsonErr != nil {
				return nil, fmt.Errorf("parse job spec: %w", err)
			}
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks required fields and compiles the filter patterns.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Project.Bucket) == "" {
		return errors.New("job spec: project.bucket is required")
	}
	if strings.TrimSpace(s.Project.Key) == "" {
		return errors.New("job spec: project.key is required")
	}
	if _, err := s.Filters.Compile(); err != nil {
		return err
	}
	return nil
}

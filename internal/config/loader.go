// Package config loads job manifests describing children to spawn.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads a job manifest from the provided path.
func Load(path string) (*Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve job path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	if doc.Job == nil {
		return nil, fmt.Errorf("%s: manifest defines no job", absPath)
	}
	job := doc.Job

	for k, v := range job.Env {
		job.Env[k] = os.ExpandEnv(v)
	}
	if job.Workdir != "" {
		expanded := os.ExpandEnv(job.Workdir)
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Clean(filepath.Join(filepath.Dir(absPath), expanded))
		}
		job.Workdir = expanded
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

// Validate checks the job's invariants before any OS resources are
// committed.
func (j *Job) Validate() error {
	if len(j.Command) == 0 || j.Command[0] == "" {
		return errors.New("job requires a command")
	}
	if j.StdoutCapacity < 0 || j.StderrCapacity < 0 {
		return errors.New("capture capacities must not be negative")
	}
	if j.CombineOutput {
		if j.StderrCapacity > 0 {
			return errors.New("combineOutput is mutually exclusive with stderrCapacity")
		}
		if j.StdoutCapacity == 0 {
			return errors.New("combineOutput requires stdoutCapacity")
		}
	}
	if j.Timeout.Duration < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

package config

import (
	"fmt"
	"sort"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Document mirrors the job.yaml manifest structure.
type Document struct {
	Version string `yaml:"version"`
	Job     *Job   `yaml:"job"`
}

// Job describes one child to spawn.
type Job struct {
	// Command is the argument vector; the first element is the program.
	Command []string `yaml:"command"`

	// Workdir is the child's working directory, resolved relative to the
	// manifest's directory when not absolute.
	Workdir string `yaml:"workdir"`

	// Env holds per-job environment overrides; InheritEnv controls
	// whether the parent's environment is the base.
	Env        map[string]string `yaml:"env"`
	InheritEnv bool              `yaml:"inheritEnv"`

	// Stdin is fed to the child's standard input when non-empty.
	Stdin string `yaml:"stdin"`

	// StdoutCapacity and StderrCapacity size the capture buffers in
	// bytes; zero leaves the corresponding descriptor inherited.
	StdoutCapacity int `yaml:"stdoutCapacity"`
	StderrCapacity int `yaml:"stderrCapacity"`

	// CombineOutput merges the child's stderr into the stdout capture.
	CombineOutput bool `yaml:"combineOutput"`

	// Timeout bounds synchronous runs of the job.
	Timeout Duration `yaml:"timeout"`
}

// Environ renders the job's environment as a "key=value" slice, or nil when
// the job simply inherits the parent's environment unchanged.
func (j *Job) Environ(parent []string) []string {
	if len(j.Env) == 0 {
		if j.InheritEnv {
			return nil
		}
		return []string{}
	}

	var env []string
	if j.InheritEnv {
		env = append(env, parent...)
	}
	keys := make([]string, 0, len(j.Env))
	for k := range j.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, j.Env[k]))
	}
	return env
}

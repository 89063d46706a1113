package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment is one environment section of a project file
type Environment struct {
	Name string `yaml:"-"`

	Profile     string `yaml:"profile"`
	Region      string `yaml:"region"`
	Application string `yaml:"application"`
	// Stack overrides the <application>-<environment> stack name
	Stack              string `yaml:"stack"`
	StrictScalingGroup bool   `yaml:"strict_scaling_group"`

	SSH  SSH  `yaml:"ssh"`
	Wait Wait `yaml:"wait"`
}

// SSH holds how fleet hosts are reached
type SSH struct {
	User       string        `yaml:"user"`
	Port       int           `yaml:"port"`
	PrivateKey string        `yaml:"private_key"`
	KnownHosts string        `yaml:"known_hosts"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Wait holds the outer polling policy
type Wait struct {
	Timeout          time.Duration `yaml:"timeout"`
	Interval         time.Duration `yaml:"interval"`
	Concurrency      int           `yaml:"concurrency"`
	BootstrapMarker  string        `yaml:"bootstrap_marker"`
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
}

// Load reads the named environment section from a YAML project file.
// Section names are matched in lower case.
// An empty path yields an environment holding only defaults.
func Load(path, environment string) (*Environment, error) {
	environment = strings.ToLower(environment)
	env := &Environment{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "config: failed to read %s", path)
		}

		var sections map[string]*Environment
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return nil, errors.Wrapf(err, "config: failed to parse %s", path)
		}

		section, ok := sections[environment]
		if !ok || section == nil {
			return nil, errors.Errorf("config: environment %q not found in %s", environment, path)
		}
		env = section
	}

	env.Name = environment
	env.Defaults()
	return env, nil
}

// Defaults fills in zero values with sensible defaults.
func (e *Environment) Defaults() {
	if e.SSH.User == "" {
		e.SSH.User = "ubuntu"
	}
	if e.SSH.Port == 0 {
		e.SSH.Port = 22
	}
	if e.SSH.Timeout == 0 {
		e.SSH.Timeout = 10 * time.Second
	}
	if e.Wait.Timeout == 0 {
		e.Wait.Timeout = 10 * time.Minute
	}
	if e.Wait.Interval == 0 {
		e.Wait.Interval = 20 * time.Second
	}
	if e.Wait.Concurrency == 0 {
		e.Wait.Concurrency = 8
	}
	if e.Wait.BootstrapMarker == "" {
		e.Wait.BootstrapMarker = "/tmp/bootstrap_done"
	}
	if e.Wait.BootstrapTimeout == 0 {
		e.Wait.BootstrapTimeout = 10 * time.Minute
	}
}

// StackName returns the stack the environment deploys to
func (e *Environment) StackName() (string, error) {
	if e.Stack != "" {
		return e.Stack, nil
	}
	if e.Application == "" || e.Name == "" {
		return "", errors.New("config: a stack name or both application and environment are required")
	}
	return strings.ToLower(e.Application) + "-" + e.Name, nil
}

// ReadPrivateKey loads the configured SSH private key, if any
func (e *Environment) ReadPrivateKey() ([]byte, error) {
	if e.SSH.PrivateKey == "" {
		return nil, nil
	}
	path, err := expandHome(e.SSH.PrivateKey)
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: failed to read private key %s", path)
	}
	return key, nil
}

// KnownHostsPath returns the known hosts file with ~ expanded
func (e *Environment) KnownHostsPath() (string, error) {
	if e.SSH.KnownHosts == "" {
		return "", nil
	}
	return expandHome(e.SSH.KnownHosts)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "config: cannot expand ~")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package base holds the process configuration shared by the CLI commands.
package base

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/routing"
	"github.com/cockroachdb/spannerbatch/pkg/spanrpc"
	"github.com/cockroachdb/spannerbatch/pkg/util/envutil"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of a coordinator or worker process. It is
// assembled from defaults, an optional YAML file, the environment and
// command line flags, in that order of increasing precedence.
type Config struct {
	Project  string `yaml:"project"`
	Instance string `yaml:"instance"`
	Database string `yaml:"database"`

	// Host is the default endpoint.
	Host string `yaml:"host"`
	// Insecure disables TLS and credentials, e.g. for the emulator.
	Insecure bool `yaml:"insecure"`
	// ResourceBasedRouting is the explicit routing setting. When unset the
	// environment decides, see RoutingEnvVar.
	ResourceBasedRouting routing.Mode `yaml:"resource_based_routing"`

	// MetricsAddr, if set, serves prometheus metrics on /metrics.
	MetricsAddr string `yaml:"metrics_addr"`
	// Verbosity is the log verbosity level.
	Verbosity int32 `yaml:"verbosity"`

	RPCTimeout         time.Duration `yaml:"rpc_timeout"`
	Concurrency        int           `yaml:"concurrency"`
	PartitionSizeBytes int64         `yaml:"partition_size_bytes"`
	MaxPartitions      int64         `yaml:"max_partitions"`

	// EnvRoutingDefault is the routing default read from the environment. It
	// is populated by readEnvironmentVariables and never read from a file.
	EnvRoutingDefault bool `yaml:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Host:        DefaultHost,
		RPCTimeout:  DefaultRPCTimeout,
		Concurrency: DefaultConcurrency,
	}
}

// LoadConfigFile overlays the YAML file at path onto DefaultConfig. Unknown
// keys are an error.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config file")
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

// Assemble builds the process configuration from, in order of increasing
// precedence: defaults, the YAML file at path (skipped if path is empty),
// the environment, and apply, which is typically the command line flags
// that were set explicitly. The result is validated.
func Assemble(path string, lookup envutil.LookupFunc, apply func(*Config)) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.readEnvironmentVariables(lookup); err != nil {
		return cfg, err
	}
	if apply != nil {
		apply(&cfg)
	}
	return cfg, cfg.Validate()
}

// readEnvironmentVariables populates all config values that are environment
// variable based. This is the only place the environment is consulted.
func (cfg *Config) readEnvironmentVariables(lookup envutil.LookupFunc) error {
	cfg.EnvRoutingDefault = envutil.EnvIsOneOf(lookup, RoutingEnvVar, routingAffirmative...)
	if host := envutil.EnvOrDefaultString(lookup, EmulatorHostEnvVar, ""); host != "" && cfg.Host == DefaultHost {
		cfg.Host = host
		cfg.Insecure = true
	}
	var err error
	if cfg.RPCTimeout, err = envutil.EnvOrDefaultDuration(lookup, RPCTimeoutEnvVar, cfg.RPCTimeout); err != nil {
		return err
	}
	if cfg.Concurrency, err = envutil.EnvOrDefaultInt(lookup, ConcurrencyEnvVar, cfg.Concurrency); err != nil {
		return err
	}
	return nil
}

// Validate checks that the config names a database and has sane limits.
func (cfg *Config) Validate() error {
	if cfg.Project == "" || cfg.Instance == "" || cfg.Database == "" {
		return errors.WithHint(
			errors.New("no database configured"),
			"pass --project, --instance and --database, or set them in the --config file",
		)
	}
	if cfg.Host == "" {
		return errors.WithHint(errors.New("no host configured"),
			"the default is "+DefaultHost)
	}
	if cfg.Concurrency < 1 {
		return errors.WithHintf(errors.Newf("invalid concurrency %d", cfg.Concurrency),
			"concurrency must be at least 1")
	}
	if cfg.RPCTimeout <= 0 {
		return errors.Newf("invalid rpc timeout %s", cfg.RPCTimeout)
	}
	if cfg.PartitionSizeBytes < 0 || cfg.MaxPartitions < 0 {
		return errors.New("partition size and max partitions must not be negative")
	}
	return nil
}

// InstancePath returns the resource name of the configured instance.
func (cfg *Config) InstancePath() string {
	return spanrpc.InstancePath(cfg.Project, cfg.Instance)
}

// DatabasePath returns the resource name of the configured database.
func (cfg *Config) DatabasePath() string {
	return spanrpc.DatabasePath(cfg.Project, cfg.Instance, cfg.Database)
}

// RoutingConfig returns the endpoint resolver configuration.
func (cfg *Config) RoutingConfig() routing.Config {
	return routing.Config{
		InstanceName: cfg.InstancePath(),
		DefaultHost:  cfg.Host,
		Mode:         cfg.ResourceBasedRouting,
		EnvDefault:   cfg.EnvRoutingDefault,
	}
}

// Package config defines the run configuration and its defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvKeyReplacer maps nested keys to VMPLACE_PLACEMENT_STRICT_MODE style
// environment variables.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Strategy names accepted in placement.strategies.
var knownStrategies = map[string]bool{
	"first_fit":        true,
	"first_fit_divide": true,
	"best_fit":         true,
	"milp":             true,
}

// PlacementConfig selects and tunes the placement strategies.
type PlacementConfig struct {
	// Strategies run concurrently on the same problem.
	Strategies []string `mapstructure:"strategies"`
	// Criterion is the Best-Fit sorting criterion: a resource name or
	// "weighted_resources".
	Criterion string `mapstructure:"criterion"`
	// PresortScarcity orders workloads by descending scarcity-weighted demand
	// before placement.
	PresortScarcity bool `mapstructure:"presort_scarcity"`
	// Filters are CEL expressions a workload must satisfy.
	Filters []string `mapstructure:"filters"`
	// MaxConcurrency bounds parallel strategy runs. Zero means one per strategy.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// StrictMode turns oversize workloads and failed strategies into errors.
	StrictMode bool `mapstructure:"strict_mode"`
}

// MILPConfig configures the external solver.
type MILPConfig struct {
	Binary    string        `mapstructure:"binary"`
	TimeLimit time.Duration `mapstructure:"time_limit"`
	Relaxed   bool          `mapstructure:"relaxed"`
}

// DatasetConfig locates the workload table and the server fleet.
type DatasetConfig struct {
	Workloads string `mapstructure:"workloads"`
	Comma     string `mapstructure:"comma"`
	// Fleet is a .yaml or .hcl fleet file. When empty, ServerCapacity is
	// replicated Servers times.
	Fleet          string             `mapstructure:"fleet"`
	ServerCapacity map[string]float64 `mapstructure:"server_capacity"`
	// Servers defaults to one per workload.
	Servers int `mapstructure:"servers"`
	// MaxDemand drops workloads above a per-resource threshold.
	MaxDemand map[string]float64 `mapstructure:"max_demand"`
	// Sample keeps a seeded random subset of the workloads when positive.
	Sample int    `mapstructure:"sample"`
	Seed   uint64 `mapstructure:"seed"`
}

// AWSConfig configures the EC2 instance type catalog.
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
	// Fleet is "m5.xlarge=4,r5.2xlarge=2".
	Fleet string `mapstructure:"fleet"`
	// EBSStorageGB is the storage capacity given to EBS-only types.
	EBSStorageGB float64 `mapstructure:"ebs_storage_gb"`
	Verbose      bool    `mapstructure:"verbose"`
}

// KubernetesConfig configures the cluster snapshot provider.
type KubernetesConfig struct {
	Kubeconfig   string `mapstructure:"kubeconfig"`
	Namespace    string `mapstructure:"namespace"`
	NodeSelector string `mapstructure:"node_selector"`
	ClassLabel   string `mapstructure:"class_label"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full run configuration.
type Config struct {
	Resources  []string         `mapstructure:"resources"`
	Placement  PlacementConfig  `mapstructure:"placement"`
	MILP       MILPConfig       `mapstructure:"milp"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Log        LogConfig        `mapstructure:"log"`

	// Output is a directory or "s3://bucket/prefix" for exported reports.
	Output        string `mapstructure:"output"`
	OtelEndpoint  string `mapstructure:"otel_endpoint"`
	SkipTelemetry bool   `mapstructure:"skip_telemetry"`
}

// Defaults.
const (
	DefaultRegion    = "us-east-1"
	DefaultCriterion = "weighted_resources"
)

// DefaultPlacementConfig returns the default strategy selection.
func DefaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		Strategies:      []string{"first_fit", "first_fit_divide", "best_fit"},
		Criterion:       DefaultCriterion,
		PresortScarcity: false,
		MaxConcurrency:  4,
	}
}

// DefaultMILPConfig returns the default solver settings.
func DefaultMILPConfig() MILPConfig {
	return MILPConfig{
		Binary:    "glpsol",
		TimeLimit: 5 * time.Minute,
	}
}

// Default returns the complete default configuration.
func Default() Config {
	return Config{
		Resources: []string{resource.VCPU, resource.Memory, resource.Storage},
		Placement: DefaultPlacementConfig(),
		MILP:      DefaultMILPConfig(),
		Dataset: DatasetConfig{
			Comma: ";",
			ServerCapacity: map[string]float64{
				resource.VCPU:    64,
				resource.Memory:  512,
				resource.Storage: 2048,
			},
		},
		AWS: AWSConfig{
			Region:       DefaultRegion,
			EBSStorageGB: 500,
		},
		Kubernetes: KubernetesConfig{
			ClassLabel: "app.kubernetes.io/name",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Output: "vmplace-out",
	}
}

// SetDefaults registers every default on v so that environment variables
// and flags can override nested keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("resources", d.Resources)
	v.SetDefault("placement.strategies", d.Placement.Strategies)
	v.SetDefault("placement.criterion", d.Placement.Criterion)
	v.SetDefault("placement.presort_scarcity", d.Placement.PresortScarcity)
	v.SetDefault("placement.filters", d.Placement.Filters)
	v.SetDefault("placement.max_concurrency", d.Placement.MaxConcurrency)
	v.SetDefault("placement.strict_mode", d.Placement.StrictMode)
	v.SetDefault("milp.binary", d.MILP.Binary)
	v.SetDefault("milp.time_limit", d.MILP.TimeLimit)
	v.SetDefault("milp.relaxed", d.MILP.Relaxed)
	v.SetDefault("dataset.workloads", d.Dataset.Workloads)
	v.SetDefault("dataset.comma", d.Dataset.Comma)
	v.SetDefault("dataset.fleet", d.Dataset.Fleet)
	v.SetDefault("dataset.servers", d.Dataset.Servers)
	v.SetDefault("dataset.sample", d.Dataset.Sample)
	v.SetDefault("dataset.seed", d.Dataset.Seed)
	v.SetDefault("aws.region", d.AWS.Region)
	v.SetDefault("aws.profile", d.AWS.Profile)
	v.SetDefault("aws.fleet", d.AWS.Fleet)
	v.SetDefault("aws.ebs_storage_gb", d.AWS.EBSStorageGB)
	v.SetDefault("aws.verbose", d.AWS.Verbose)
	v.SetDefault("kubernetes.kubeconfig", d.Kubernetes.Kubeconfig)
	v.SetDefault("kubernetes.namespace", d.Kubernetes.Namespace)
	v.SetDefault("kubernetes.node_selector", d.Kubernetes.NodeSelector)
	v.SetDefault("kubernetes.class_label", d.Kubernetes.ClassLabel)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("output", d.Output)
	v.SetDefault("otel_endpoint", d.OtelEndpoint)
	v.SetDefault("skip_telemetry", d.SkipTelemetry)
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	// Capacity maps are not registered as viper defaults: viper flattens
	// nested maps and would merge default keys into a user map.
	if len(c.Dataset.ServerCapacity) == 0 {
		c.Dataset.ServerCapacity = Default().Dataset.ServerCapacity
	}
	for i, s := range c.Placement.Strategies {
		c.Placement.Strategies[i] = strings.ToLower(strings.TrimSpace(s))
	}
	c.Placement.Criterion = strings.ToLower(strings.TrimSpace(c.Placement.Criterion))
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Schema builds the resource schema named by Resources.
func (c *Config) Schema() (resource.Schema, error) {
	return resource.NewSchema(c.Resources...)
}

// Comma returns the CSV separator rune.
func (c *Config) Comma() rune {
	for _, r := range c.Dataset.Comma {
		return r
	}
	return ';'
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	var errs []error
	schema, err := c.Schema()
	if err != nil {
		errs = append(errs, fmt.Errorf("resources: %w", err))
	}
	if len(c.Placement.Strategies) == 0 {
		errs = append(errs, errors.New("placement.strategies is empty"))
	}
	for _, s := range c.Placement.Strategies {
		if !knownStrategies[s] {
			errs = append(errs, fmt.Errorf("unknown strategy %q", s))
		}
	}
	if err == nil && c.Placement.Criterion != DefaultCriterion {
		if _, ok := schema.Index(c.Placement.Criterion); !ok {
			errs = append(errs, fmt.Errorf("criterion %q is neither a resource nor %s", c.Placement.Criterion, DefaultCriterion))
		}
	}
	if c.Placement.MaxConcurrency < 0 {
		errs = append(errs, errors.New("placement.max_concurrency must not be negative"))
	}
	if c.Dataset.Sample < 0 {
		errs = append(errs, errors.New("dataset.sample must not be negative"))
	}
	if c.Dataset.Servers < 0 {
		errs = append(errs, errors.New("dataset.servers must not be negative"))
	}
	if len([]rune(c.Dataset.Comma)) > 1 {
		errs = append(errs, fmt.Errorf("dataset.comma %q must be a single character", c.Dataset.Comma))
	}
	if c.MILP.TimeLimit < 0 {
		errs = append(errs, errors.New("milp.time_limit must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

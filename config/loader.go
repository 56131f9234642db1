// Package config loads meshweave configuration from YAML files with
// environment variable overrides.
//
// Precedence: defaults, then the YAML file, then MESHWEAVE_* variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("meshweave.yaml").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete meshweave configuration.
type Config struct {
	// Node identifies the local mesh node.
	Node NodeConfig `yaml:"node" env:"NODE"`

	// Server configures the HTTP API surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Consensus tunes proposal voting.
	Consensus ConsensusConfig `yaml:"consensus" env:"CONSENSUS"`

	// Coordination tunes operation orchestration.
	Coordination CoordinationConfig `yaml:"coordination" env:"COORDINATION"`

	// Redis configures the optional redis snapshot backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Snapshot configures periodic state capture.
	Snapshot SnapshotConfig `yaml:"snapshot" env:"SNAPSHOT"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// NodeConfig describes the local node's identity.
type NodeConfig struct {
	// Node identifier; generated when empty.
	ID string `yaml:"id" env:"ID"`
	// Node type: primary, auxiliary, specialist, observer.
	Type string `yaml:"type" env:"TYPE"`
	// Capabilities advertised to the mesh.
	Capabilities []string `yaml:"capabilities" env:"CAPABILITIES"`
	// Maximum state updates per second accepted from this node.
	StateUpdateRate float64 `yaml:"state_update_rate" env:"STATE_UPDATE_RATE"`
	// Burst allowance for state updates.
	StateUpdateBurst int `yaml:"state_update_burst" env:"STATE_UPDATE_BURST"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen address, host:port.
	Addr string `yaml:"addr" env:"ADDR"`
	// Read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ConsensusConfig tunes the voting engine.
type ConsensusConfig struct {
	// Default voting window for proposals.
	VotingDuration time.Duration `yaml:"voting_duration" env:"VOTING_DURATION"`
	// Fraction of active nodes that must vote.
	RequiredParticipation float64 `yaml:"required_participation" env:"REQUIRED_PARTICIPATION"`
	// Weighted approval fraction needed for consensus.
	ConsensusThreshold float64 `yaml:"consensus_threshold" env:"CONSENSUS_THRESHOLD"`
	// Interval between deadline sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// Closed proposals retained in history.
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
}

// CoordinationConfig tunes operation orchestration.
type CoordinationConfig struct {
	// Delay before planning transitions to execution.
	GraceDelay time.Duration `yaml:"grace_delay" env:"GRACE_DELAY"`
	// Minimum available capacity for participant eligibility.
	MinCapacity float64 `yaml:"min_capacity" env:"MIN_CAPACITY"`
	// Fraction of participants that must report before completion.
	ProgressThreshold float64 `yaml:"progress_threshold" env:"PROGRESS_THRESHOLD"`
	// Consensus level required to mark agreement.
	AgreementThreshold float64 `yaml:"agreement_threshold" env:"AGREEMENT_THRESHOLD"`
	// Confidence multiplier applied to timed-out operations.
	TimeoutPenalty float64 `yaml:"timeout_penalty" env:"TIMEOUT_PENALTY"`
	// Fallback duration when an operation specifies none.
	DefaultDuration time.Duration `yaml:"default_duration" env:"DEFAULT_DURATION"`
	// Finished operations retained in history.
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
}

// RedisConfig configures the redis connection.
type RedisConfig struct {
	// Address, host:port.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password, empty for none.
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number.
	DB int `yaml:"db" env:"DB"`
	// Key prefix for all meshweave keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SnapshotConfig configures periodic state capture.
type SnapshotConfig struct {
	// Whether periodic snapshots run.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Backend: memory, file, redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// File path for the file backend.
	Path string `yaml:"path" env:"PATH"`
	// Capture interval.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// LogConfig configures zap logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with the calling site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Whether tracing and metrics export are active.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Reported service name.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Trace sampling rate, 0 to 1.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with a builder-style API.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the MESHWEAVE env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MESHWEAVE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server addr must not be empty")
	}
	if f := c.Consensus.RequiredParticipation; f < 0 || f > 1 {
		errs = append(errs, "required_participation must be between 0 and 1")
	}
	if f := c.Consensus.ConsensusThreshold; f < 0 || f > 1 {
		errs = append(errs, "consensus_threshold must be between 0 and 1")
	}
	if f := c.Coordination.MinCapacity; f < 0 || f > 1 {
		errs = append(errs, "min_capacity must be between 0 and 1")
	}
	switch c.Snapshot.Backend {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown snapshot backend %q", c.Snapshot.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

package taskruntime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Swind/go-task-runtime/core"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config describes a Runtime. Zero fields take the defaults of DefaultConfig.
type Config struct {
	Scheduler SchedulerSettings `yaml:"scheduler" json:"scheduler"`
	Allocator AllocatorSettings `yaml:"allocator" json:"allocator"`
	Channel   ChannelSettings   `yaml:"channel" json:"channel"`
	Logging   LoggingSettings   `yaml:"logging" json:"logging"`
}

// SchedulerSettings configures the worker pool.
type SchedulerSettings struct {
	Name            string `yaml:"name,omitempty" json:"name,omitempty"`
	Workers         int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	Policy          string `yaml:"policy,omitempty" json:"policy,omitempty"`
	HistoryCapacity int    `yaml:"historyCapacity,omitempty" json:"historyCapacity,omitempty"`
}

// AllocatorSettings configures the block allocator backing task scratch space.
type AllocatorSettings struct {
	BlockSize     int `yaml:"blockSize,omitempty" json:"blockSize,omitempty"`
	BlocksPerPool int `yaml:"blocksPerPool,omitempty" json:"blocksPerPool,omitempty"`
}

// ChannelSettings holds the default capacity for channels made with ChannelFor.
type ChannelSettings struct {
	Capacity int `yaml:"capacity,omitempty" json:"capacity,omitempty"`
}

// LoggingSettings selects the built-in logger. Level is one of debug, info,
// warn, error or off.
type LoggingSettings struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

const (
	defaultBlockSize       = 4096
	defaultBlocksPerPool   = 256
	defaultChannelCapacity = 16
	logLevelOff            = "off"
)

// DefaultConfig returns the configuration used when none is supplied.
// Workers is left at zero, meaning one per CPU.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerSettings{
			Name:   "default",
			Policy: string(core.QueuePolicyLIFO),
		},
		Allocator: AllocatorSettings{
			BlockSize:     defaultBlockSize,
			BlocksPerPool: defaultBlocksPerPool,
		},
		Channel: ChannelSettings{Capacity: defaultChannelCapacity},
		Logging: LoggingSettings{Level: logLevelOff},
	}
}

// Init fills zero fields with defaults.
func (c *Config) Init() {
	def := DefaultConfig()
	if c.Scheduler.Name == "" {
		c.Scheduler.Name = def.Scheduler.Name
	}
	if c.Scheduler.Policy == "" {
		c.Scheduler.Policy = def.Scheduler.Policy
	}
	if c.Allocator.BlockSize == 0 {
		c.Allocator.BlockSize = def.Allocator.BlockSize
	}
	if c.Allocator.BlocksPerPool == 0 {
		c.Allocator.BlocksPerPool = def.Allocator.BlocksPerPool
	}
	if c.Channel.Capacity == 0 {
		c.Channel.Capacity = def.Channel.Capacity
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.Workers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers: must not be negative, got %d", c.Scheduler.Workers))
	}
	if c.Scheduler.HistoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("scheduler.historyCapacity: must not be negative, got %d", c.Scheduler.HistoryCapacity))
	}
	if c.Scheduler.Policy != "" {
		if _, err := core.ParseQueuePolicy(c.Scheduler.Policy); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.policy: %w", err))
		}
	}
	if c.Allocator.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("allocator.blockSize: must not be negative, got %d", c.Allocator.BlockSize))
	}
	if c.Allocator.BlocksPerPool < 0 {
		errs = append(errs, fmt.Errorf("allocator.blocksPerPool: must not be negative, got %d", c.Allocator.BlocksPerPool))
	}
	if c.Channel.Capacity < 0 {
		errs = append(errs, fmt.Errorf("channel.capacity: must not be negative, got %d", c.Channel.Capacity))
	}
	if c.Logging.Level != "" {
		if _, _, err := parseLogLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DecodeConfig parses YAML (or JSON, which is valid YAML) into a validated
// Config with defaults applied.
func DecodeConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Init()
	return cfg, nil
}

// LoadConfig reads and decodes a config from any afs URL: a local path,
// file://, mem:// or a registered cloud storage scheme.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", URL, err)
	}
	cfg, err := DecodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", URL, err)
	}
	return cfg, nil
}

// parseLogLevel maps a level name to a core.LogLevel; off is reported with
// enabled=false.
func parseLogLevel(s string) (level core.LogLevel, enabled bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return core.LogLevelDebug, true, nil
	case "info", "":
		return core.LogLevelInfo, true, nil
	case "warn", "warning":
		return core.LogLevelWarn, true, nil
	case "error":
		return core.LogLevelError, true, nil
	case logLevelOff, "none":
		return core.LogLevelError, false, nil
	default:
		return 0, false, fmt.Errorf("unknown level %q", s)
	}
}

// logger builds the logger selected by the Logging section.
func (c *Config) logger() core.Logger {
	level, enabled, err := parseLogLevel(c.Logging.Level)
	if err != nil || !enabled {
		return core.NewNoOpLogger()
	}
	return &core.DefaultLogger{MinLevel: level, Prefix: c.Logging.Prefix}
}

// Package config loads and validates the recorder's YAML configuration
// via viper, grounded on firestige-Otus/internal/config/config.go and
// otus/internal/otus/config/loader.go's viper-with-mapstructure idiom.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/otusdds/recorder/internal/rerr"
)

// RecorderConfig is the top-level configuration tree, mirroring every key
// of spec.md §6.
type RecorderConfig struct {
	DDS              DDSConfig              `mapstructure:"dds"`
	Recorder         RecorderSection        `mapstructure:"recorder"`
	RemoteController RemoteControllerConfig `mapstructure:"remote-controller"`
	Log              LogSection             `mapstructure:"log"`
	Metrics          MetricsSection         `mapstructure:"metrics"`
}

// DDSConfig mirrors spec.md §6's dds.* keys.
type DDSConfig struct {
	Domain    int      `mapstructure:"domain"`
	Whitelist []string `mapstructure:"whitelist"`
	Blocklist []string `mapstructure:"blocklist"`
	Allowlist []string `mapstructure:"allowlist"`
}

// RecorderSection mirrors spec.md §6's recorder.* keys.
type RecorderSection struct {
	BufferSize        int           `mapstructure:"buffer-size"`
	EventWindow       time.Duration `mapstructure:"event-window"`
	CleanupPeriod     time.Duration `mapstructure:"cleanup-period"`
	MaxPendingSamples int           `mapstructure:"max-pending-samples"`
	OnlyWithSchema    bool          `mapstructure:"only-with-schema"`
	LogPublishTime    bool          `mapstructure:"log-publish-time"`
	RecordTypes       bool          `mapstructure:"record-types"`
	ROS2Types         bool          `mapstructure:"ros2-types"`
	InitialState      string        `mapstructure:"initial-state"`
	Output            OutputConfig  `mapstructure:"output"`
}

// OutputConfig mirrors spec.md §6's recorder.output.* keys.
type OutputConfig struct {
	Container       string               `mapstructure:"container"` // "chunklog" | "relstore"
	Filename        string               `mapstructure:"filename"`
	Path            string               `mapstructure:"path"`
	TimestampFormat string               `mapstructure:"timestamp-format"`
	LocalTimestamp  bool                 `mapstructure:"local-timestamp"`
	DataFormat      string               `mapstructure:"data-format"` // "cdr" | "json" | "both", relstore only
	ResourceLimits  ResourceLimitsConfig `mapstructure:"resource-limits"`
}

// ResourceLimitsConfig mirrors spec.md §6's
// recorder.output.resource-limits.* keys.
type ResourceLimitsConfig struct {
	MaxFileSize   int64 `mapstructure:"max-file-size"`
	MaxSize       int64 `mapstructure:"max-size"`
	FileRotation  bool  `mapstructure:"file-rotation"`
	LogRotation   bool  `mapstructure:"log-rotation"`
	SafetyMargin  int64 `mapstructure:"safety-margin"`
	FlushPeriod   int   `mapstructure:"flush-period"`
}

// RemoteControllerConfig mirrors spec.md §6's remote-controller.* keys.
type RemoteControllerConfig struct {
	Enable          bool     `mapstructure:"enable"`
	Domain          int      `mapstructure:"domain"`
	InitialState    string   `mapstructure:"initial-state"`
	CommandTopic    string   `mapstructure:"command-topic-name"`
	StatusTopic     string   `mapstructure:"status-topic-name"`
	UDSSocketPath   string   `mapstructure:"uds-socket-path"`
	KafkaBrokers    []string `mapstructure:"kafka-brokers"`
	KafkaGroupID    string   `mapstructure:"kafka-group-id"`
}

// LogSection configures internal/log (SPEC_FULL.md §1.2).
type LogSection struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	FilePath string `mapstructure:"file-path"`
}

// MetricsSection configures internal/metrics's HTTP server.
type MetricsSection struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

// defaults mirror SPEC_FULL.md §1.1's stated default set.
func applyDefaults(cfg *RecorderConfig) {
	if cfg.Recorder.BufferSize == 0 {
		cfg.Recorder.BufferSize = 100
	}
	if cfg.Recorder.EventWindow == 0 {
		cfg.Recorder.EventWindow = 20 * time.Second
	}
	if cfg.Recorder.CleanupPeriod == 0 {
		cfg.Recorder.CleanupPeriod = 2 * cfg.Recorder.EventWindow
	}
	// recorder.max-pending-samples defaults via viper.SetDefault in
	// loader.go, not here: 0 is a valid "disabled" value (spec.md §6) and
	// must survive an explicit `max-pending-samples: 0` in the file.
	if cfg.Recorder.InitialState == "" {
		cfg.Recorder.InitialState = "STOPPED"
	}
	if cfg.Recorder.Output.Container == "" {
		cfg.Recorder.Output.Container = "chunklog"
	}
	if cfg.Recorder.Output.DataFormat == "" {
		cfg.Recorder.Output.DataFormat = "cdr"
	}
}

// Validate implements the Configuration error class of spec.md §7.
func (c *RecorderConfig) Validate() error {
	rl := c.Recorder.Output.ResourceLimits
	if rl.MaxFileSize < 0 || rl.MaxSize < 0 || rl.SafetyMargin < 0 {
		return fmt.Errorf("%w: resource-limits values must be non-negative", rerr.ErrConfiguration)
	}
	if c.Recorder.EventWindow < 0 {
		return fmt.Errorf("%w: recorder.event-window must be non-negative", rerr.ErrConfiguration)
	}
	if c.Recorder.EventWindow == 0 && c.Recorder.CleanupPeriod > 0 {
		return fmt.Errorf("%w: recorder.cleanup-period set with recorder.event-window == 0", rerr.ErrConfiguration)
	}

	switch c.Recorder.Output.Container {
	case "chunklog", "relstore":
	default:
		return fmt.Errorf("%w: unknown recorder.output.container %q", rerr.ErrConfiguration, c.Recorder.Output.Container)
	}

	switch c.Recorder.Output.DataFormat {
	case "cdr", "json", "both":
	default:
		return fmt.Errorf("%w: unknown recorder.output.data-format %q", rerr.ErrConfiguration, c.Recorder.Output.DataFormat)
	}

	if c.Recorder.Output.Container == "relstore" && rl.MaxFileSize != 0 && rl.MaxSize != 0 && rl.MaxFileSize != rl.MaxSize {
		// SPEC_FULL.md §5 open-question decision: hard error, not a
		// silent coercion, because picking one value would hide a
		// contradictory user intent.
		return fmt.Errorf("%w: relstore requires max-file-size and max-size to match or be left unset (got %d and %d)",
			rerr.ErrConfiguration, rl.MaxFileSize, rl.MaxSize)
	}

	switch strings.ToUpper(c.Recorder.InitialState) {
	case "STOPPED", "RUNNING", "PAUSED":
		c.Recorder.InitialState = strings.ToUpper(c.Recorder.InitialState)
	default:
		return fmt.Errorf("%w: unknown recorder.initial-state %q", rerr.ErrConfiguration, c.Recorder.InitialState)
	}

	return nil
}

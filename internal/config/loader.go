package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads, defaults, and validates the YAML configuration at path
// (spec.md §6), grounded on firestige-Otus's viper-with-mapstructure
// loader idiom (internal/otus/config/loader.go).
func Load(path string) (*RecorderConfig, error) {
	v := viper.New()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	v.SetConfigName(strings.TrimSuffix(filename, ext))
	v.SetConfigType(strings.TrimPrefix(ext, "."))
	v.AddConfigPath(dir)

	v.SetEnvPrefix("RECORDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// Booleans that default true need viper.SetDefault before Unmarshal:
	// a plain Go bool field cannot otherwise distinguish "absent from
	// the file" from "explicitly false".
	v.SetDefault("recorder.record-types", true)
	v.SetDefault("recorder.output.resource-limits.safety-margin", 256)

	// recorder.max-pending-samples: 0 is a meaningful "disabled" value
	// (spec.md §6), not a zero-value placeholder for "absent", so it gets
	// the same SetDefault treatment as the booleans above rather than the
	// if-zero promotion applyDefaults uses for the rest of the section.
	v.SetDefault("recorder.max-pending-samples", 5000)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg RecorderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

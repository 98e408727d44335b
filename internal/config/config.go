package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"image-reducer-go/internal/compressor"
	"image-reducer-go/internal/naming"
	"image-reducer-go/internal/router"
	"image-reducer-go/internal/watcher"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	InputDirectory  string           `mapstructure:"input_directory"`
	OutputDirectory string           `mapstructure:"output_directory"`
	Ratio           float64          `mapstructure:"ratio"`
	Watch           WatchConfig      `mapstructure:"watch"`
	Compressor      CompressorConfig `mapstructure:"compressor"`
	Processing      ProcessingConfig `mapstructure:"processing"`
	Server          ServerConfig     `mapstructure:"server"`
	Logging         LoggingConfig    `mapstructure:"logging"`
}

// WatchConfig contains directory watching settings
type WatchConfig struct {
	Pattern      string        `mapstructure:"pattern"`
	Debounce     time.Duration `mapstructure:"debounce"`
	RenameWindow time.Duration `mapstructure:"rename_window"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

// CompressorConfig contains settings for the external compression tool
type CompressorConfig struct {
	Tool    string        `mapstructure:"tool"`
	Suffix  string        `mapstructure:"suffix"`
	Quality string        `mapstructure:"quality"`
	Speed   int           `mapstructure:"speed"`
	Timeout time.Duration `mapstructure:"timeout"` // 0 disables
}

// ProcessingConfig contains event processing settings
type ProcessingConfig struct {
	Workers int `mapstructure:"workers"`
}

// ServerConfig contains status server settings
type ServerConfig struct {
	Port int `mapstructure:"port"` // 0 disables
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Ratio: 1.0,
		Watch: WatchConfig{
			Pattern:      watcher.DefaultPattern,
			Debounce:     watcher.DefaultDebounce,
			RenameWindow: watcher.DefaultRenameWindow,
			BufferSize:   watcher.DefaultBufferSize,
		},
		Compressor: CompressorConfig{
			Tool:    compressor.DefaultTool,
			Suffix:  naming.DefaultSuffix,
			Timeout: 2 * time.Minute,
		},
		Processing: ProcessingConfig{
			Workers: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-reducer.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// SetDefaults registers every default with v so that environment variables
// are honoured for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("input_directory", d.InputDirectory)
	v.SetDefault("output_directory", d.OutputDirectory)
	v.SetDefault("ratio", d.Ratio)
	v.SetDefault("watch.pattern", d.Watch.Pattern)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.rename_window", d.Watch.RenameWindow)
	v.SetDefault("watch.buffer_size", d.Watch.BufferSize)
	v.SetDefault("compressor.tool", d.Compressor.Tool)
	v.SetDefault("compressor.suffix", d.Compressor.Suffix)
	v.SetDefault("compressor.quality", d.Compressor.Quality)
	v.SetDefault("compressor.speed", d.Compressor.Speed)
	v.SetDefault("compressor.timeout", d.Compressor.Timeout)
	v.SetDefault("processing.workers", d.Processing.Workers)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Load reads configuration into v and returns the validated result.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if err := Prepare(v, configPath); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Prepare registers defaults, environment binding and the config file
// search path with v, then reads the config file if one is found.
func Prepare(v *viper.Viper, configPath string) error {
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-reducer")
		v.AddConfigPath("/etc/image-reducer")
	}

	v.SetEnvPrefix("IMAGE_REDUCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}
	return nil
}

// Decode unmarshals the current settings of v and validates them.
func Decode(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	if c.InputDirectory == "" {
		return fmt.Errorf("input_directory is required")
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}

	in, ok := resolveDir(c.InputDirectory)
	if !ok {
		return fmt.Errorf("input_directory does not exist or is not accessible: %s", c.InputDirectory)
	}
	out, ok := resolveDir(c.OutputDirectory)
	if !ok {
		return fmt.Errorf("output_directory does not exist or is not accessible: %s", c.OutputDirectory)
	}
	if in == out {
		return fmt.Errorf("output_directory must differ from input_directory: %s", in)
	}
	c.InputDirectory, c.OutputDirectory = in, out

	// NaN fails this check.
	if !(c.Ratio > 0 && c.Ratio <= 1) {
		return fmt.Errorf("ratio must be in (0, 1]: %g", c.Ratio)
	}

	if c.Watch.Pattern == "" {
		c.Watch.Pattern = watcher.DefaultPattern
	}
	if _, err := watcher.CompilePattern(c.Watch.Pattern); err != nil {
		return err
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = watcher.DefaultDebounce
	}
	if c.Watch.RenameWindow <= 0 {
		c.Watch.RenameWindow = watcher.DefaultRenameWindow
	}
	if c.Watch.BufferSize <= 0 {
		c.Watch.BufferSize = watcher.DefaultBufferSize
	}

	if c.Compressor.Tool == "" {
		c.Compressor.Tool = compressor.DefaultTool
	}
	if c.Compressor.Suffix == "" {
		c.Compressor.Suffix = naming.DefaultSuffix
	}
	if err := naming.ValidateSuffix(c.Compressor.Suffix); err != nil {
		return err
	}
	if c.Compressor.Speed < 0 || c.Compressor.Speed > 11 {
		return fmt.Errorf("invalid compressor speed: %d (valid: 1-11, 0 for tool default)", c.Compressor.Speed)
	}
	if c.Compressor.Timeout < 0 {
		return fmt.Errorf("compressor timeout must not be negative: %s", c.Compressor.Timeout)
	}

	if c.Processing.Workers <= 0 {
		c.Processing.Workers = 1
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// WatcherConfig returns the settings for the directory watcher.
func (c *Config) WatcherConfig() watcher.Config {
	return watcher.Config{
		Dir:          c.InputDirectory,
		Pattern:      c.Watch.Pattern,
		Debounce:     c.Watch.Debounce,
		RenameWindow: c.Watch.RenameWindow,
		BufferSize:   c.Watch.BufferSize,
	}
}

// CompressionParams returns the settings for the compression tool.
func (c *Config) CompressionParams() compressor.CompressionParams {
	return compressor.CompressionParams{
		Tool:    c.Compressor.Tool,
		Suffix:  c.Compressor.Suffix,
		Quality: c.Compressor.Quality,
		Speed:   c.Compressor.Speed,
		Timeout: c.Compressor.Timeout,
	}
}

// RouterConfig returns the settings for event routing.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		OutputDir: c.OutputDirectory,
		Ratio:     c.Ratio,
		Suffix:    c.Compressor.Suffix,
		Workers:   c.Processing.Workers,
	}
}

// Helper functions

// resolveDir expands env vars and a leading ~, and reports whether the
// result is an existing directory.
func resolveDir(path string) (string, bool) {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		expanded = filepath.Join(home, expanded[1:])
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", false
	}

	stat, err := os.Stat(abs)
	if err != nil || !stat.IsDir() {
		return "", false
	}
	return abs, true
}

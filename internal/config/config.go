// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/impulsedetect/internal/peak"
)

const (
	AppName       = "impulsedetect"
	ConfigType    = "yaml"
	EnvPrefix     = "IMPULSE"
	DefaultConfig = `# Impulse Detector Configuration

# Audio device settings
device_index: -1        # -1 for default device
sample_rate: 16000      # Audio sample rate in Hz
buffer_size: 256        # Frames per capture callback

# Window geometry
num_taps: 31            # Blocks held in the window (odd keeps the middle block centred)
tap_size: 160           # Samples per block (10ms at 16kHz)

# Detection thresholds
det_level: 2000         # Minimum deviation above the per-offset median
det_rms: 4.0            # Deviation must also exceed det_rms * window RMS
det_energy: 1.5         # Shape test ratio, 0 disables the test

# Event handling
holdoff_ms: 500         # Suppress repeat events within this time (0 = report every hit)

# Output
metrics_addr: ""        # Serve Prometheus metrics on this address (empty = off)
log_level: "info"       # trace, debug, info, warn, error
debug: false            # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int     `mapstructure:"device_index"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	BufferSize  int     `mapstructure:"buffer_size"`

	// Window geometry
	NumTaps int `mapstructure:"num_taps"`
	TapSize int `mapstructure:"tap_size"`

	// Detection thresholds
	DetLevel  float64 `mapstructure:"det_level"`
	DetRMS    float64 `mapstructure:"det_rms"`
	DetEnergy float64 `mapstructure:"det_energy"`

	// Event handling
	HoldoffMs int `mapstructure:"holdoff_ms"`

	// Output
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	Debug       bool   `mapstructure:"debug"`
}

// SetDefaults registers the default value of every key with viper.
func SetDefaults() {
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 16000)
	viper.SetDefault("buffer_size", 256)
	viper.SetDefault("num_taps", 31)
	viper.SetDefault("tap_size", 160)
	viper.SetDefault("det_level", 2000)
	viper.SetDefault("det_rms", 4.0)
	viper.SetDefault("det_energy", 1.5)
	viper.SetDefault("holdoff_ms", 500)
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug", false)
}

// Init initializes Viper with defaults, environment and config file.
// A .env file in the current directory is loaded first if present.
// Config file search order: current directory, then ~/.config/impulsedetect/
func Init() error {
	SetDefaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		// No config found - create default in ~/.config/impulsedetect/
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.DeviceIndex < -1 {
		errs = append(errs, fmt.Errorf("device_index must be -1 or a device index, got %d", s.DeviceIndex))
	}
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.BufferSize < 16 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 16 and 8192, got %d", s.BufferSize))
	}

	// Window geometry
	if s.NumTaps < 2 || s.NumTaps > 4096 {
		errs = append(errs, fmt.Errorf("num_taps must be between 2 and 4096, got %d", s.NumTaps))
	}
	if s.TapSize < 1 || s.TapSize > 8192 {
		errs = append(errs, fmt.Errorf("tap_size must be between 1 and 8192, got %d", s.TapSize))
	}

	// Detection thresholds
	if s.DetLevel < 0 {
		errs = append(errs, fmt.Errorf("det_level must be non-negative, got %v", s.DetLevel))
	}
	if s.DetRMS < 0 {
		errs = append(errs, fmt.Errorf("det_rms must be non-negative, got %v", s.DetRMS))
	}
	if s.DetEnergy < 0 {
		errs = append(errs, fmt.Errorf("det_energy must be non-negative, got %v", s.DetEnergy))
	}

	// Event handling
	if s.HoldoffMs < 0 || s.HoldoffMs > 60000 {
		errs = append(errs, fmt.Errorf("holdoff_ms must be between 0 and 60000, got %d", s.HoldoffMs))
	}

	// Output
	if s.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(s.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics_addr must be host:port, got %q", s.MetricsAddr))
		}
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level must be a logrus level, got %q", s.LogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PeakConfig returns the detector configuration for these settings.
func (s *Settings) PeakConfig() peak.Config {
	return peak.Config{
		NumTaps:   s.NumTaps,
		TapSize:   s.TapSize,
		DetLevel:  s.DetLevel,
		DetRMS:    s.DetRMS,
		DetEnergy: s.DetEnergy,
	}
}

// Level returns the logrus level, raised to debug when Debug is set.
func (s *Settings) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if s.Debug && lvl < logrus.DebugLevel {
		lvl = logrus.DebugLevel
	}
	return lvl
}

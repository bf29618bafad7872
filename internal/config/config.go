package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type GlobalsConfig struct {
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type Config struct {
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Encoder    EncoderConfig    `mapstructure:"encoder" yaml:"encoder"`
	Visualizer VisualizerConfig `mapstructure:"visualizer" yaml:"visualizer"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`

	// Internal field to track where each section came from for `config show`
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Audio      string // "builtin", "inherited" or "profile-specific"
	Encoder    string
	Visualizer string
	Output     string
	Server     string
}

type AudioConfig struct {
	SampleRate  int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels    int    `mapstructure:"channels" yaml:"channels"`
	Device      string `mapstructure:"device" yaml:"device"` // capture device name, empty for system default
	TimesliceMs int    `mapstructure:"timeslice_ms" yaml:"timeslice_ms"`
}

type EncoderConfig struct {
	Preferences []string `mapstructure:"preferences" yaml:"preferences"`
	FFmpegPath  string   `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string   `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
	Bitrate     string   `mapstructure:"bitrate" yaml:"bitrate"`
}

type VisualizerConfig struct {
	FPS          int    `mapstructure:"fps" yaml:"fps"`
	SampleSize   int    `mapstructure:"sample_size" yaml:"sample_size"`
	Width        int    `mapstructure:"width" yaml:"width"`
	Height       int    `mapstructure:"height" yaml:"height"`
	PrimaryColor string `mapstructure:"primary_color" yaml:"primary_color"`
	AccentColor  string `mapstructure:"accent_color" yaml:"accent_color"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// DefaultPreferences is the encoder preference order probed at startup.
var DefaultPreferences = []string{
	"audio/ogg;codecs=opus",
	"audio/ogg;codecs=vorbis",
	"audio/flac",
	"audio/mpeg",
	"audio/wav",
	"audio/wav;codecs=mulaw",
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Audio: AudioConfig{
			SampleRate:  48000,
			Channels:    1,
			TimesliceMs: 250,
		},
		Encoder: EncoderConfig{
			Preferences: append([]string(nil), DefaultPreferences...),
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Bitrate:     "96k",
		},
		Visualizer: VisualizerConfig{
			FPS:          30,
			SampleSize:   2048,
			Width:        64,
			Height:       8,
			PrimaryColor: "#74c7ec",
			AccentColor:  "#fab387",
		},
		Output: OutputConfig{
			Directory: filepath.Join(home, "Audio", "WaveDeck"),
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			File:       filepath.Join(home, ".local", "state", "wavedeck", "wavedeck.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Inheritance: &InheritanceInfo{
			Audio:      "builtin",
			Encoder:    "builtin",
			Visualizer: "builtin",
			Output:     "builtin",
			Server:     "builtin",
		},
	}
}

// LoadWithProfile reads configFile and resolves the requested profile on top
// of the "default" profile and the built-in defaults. A missing file yields
// the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnvOverrides(newViper(), cfg)
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		cfg.Log.File = expandPath(cfg.Log.File)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return cfg, nil
	}

	v := newViper()
	rootConfig, err := readRootConfig(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists && configName != "default" {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	result := Default()
	if base, ok := rootConfig.Configs["default"]; ok && configName != "default" {
		result = mergeConfigs(result, base, "inherited")
	}
	if selected != nil {
		result = mergeConfigs(result, selected, "profile-specific")
	}

	// Globals take precedence over any profile value
	if rootConfig.Globals != nil {
		if rootConfig.Globals.Output.Directory != "" {
			result.Output.Directory = rootConfig.Globals.Output.Directory
		}
		if rootConfig.Globals.Log.File != "" {
			result.Log.File = rootConfig.Globals.Log.File
		}
		if rootConfig.Globals.Log.MaxSizeMB > 0 {
			result.Log.MaxSizeMB = rootConfig.Globals.Log.MaxSizeMB
		}
		if rootConfig.Globals.Log.MaxBackups > 0 {
			result.Log.MaxBackups = rootConfig.Globals.Log.MaxBackups
		}
	}

	applyEnvOverrides(v, result)

	result.Output.Directory = expandPath(result.Output.Directory)
	result.Log.File = expandPath(result.Log.File)

	if err := Validate(result); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("WAVEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readRootConfig(v *viper.Viper, configFile string) (*RootConfig, error) {
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if err := validatePreferences(profile.Encoder.Preferences); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// applyEnvOverrides lets WAVEDECK_* variables override the resolved profile.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("output.directory"); s != "" {
		cfg.Output.Directory = s
	}
	if s := v.GetString("audio.device"); s != "" {
		cfg.Audio.Device = s
	}
	if n := v.GetInt("server.port"); n > 0 {
		cfg.Server.Port = n
	}
	if s := v.GetString("encoder.ffmpeg_path"); s != "" {
		cfg.Encoder.FFmpegPath = s
	}
	if s := v.GetString("log.file"); s != "" {
		cfg.Log.File = s
	}
}

// mergeConfigs overlays every non-zero field of profile onto base. mark is
// recorded in the inheritance info for each section the profile touched.
func mergeConfigs(base, profile *Config, mark string) *Config {
	result := *base
	result.Encoder.Preferences = append([]string(nil), base.Encoder.Preferences...)
	inh := InheritanceInfo{}
	if base.Inheritance != nil {
		inh = *base.Inheritance
	}
	result.Inheritance = &inh

	if profile == nil {
		return &result
	}

	if a := profile.Audio; a != (AudioConfig{}) {
		if a.SampleRate != 0 {
			result.Audio.SampleRate = a.SampleRate
		}
		if a.Channels != 0 {
			result.Audio.Channels = a.Channels
		}
		if a.Device != "" {
			result.Audio.Device = a.Device
		}
		if a.TimesliceMs != 0 {
			result.Audio.TimesliceMs = a.TimesliceMs
		}
		inh.Audio = mark
	}

	e := profile.Encoder
	if len(e.Preferences) > 0 || e.FFmpegPath != "" || e.FFprobePath != "" || e.Bitrate != "" {
		if len(e.Preferences) > 0 {
			result.Encoder.Preferences = append([]string(nil), e.Preferences...)
		}
		if e.FFmpegPath != "" {
			result.Encoder.FFmpegPath = e.FFmpegPath
		}
		if e.FFprobePath != "" {
			result.Encoder.FFprobePath = e.FFprobePath
		}
		if e.Bitrate != "" {
			result.Encoder.Bitrate = e.Bitrate
		}
		inh.Encoder = mark
	}

	if vz := profile.Visualizer; vz != (VisualizerConfig{}) {
		if vz.FPS != 0 {
			result.Visualizer.FPS = vz.FPS
		}
		if vz.SampleSize != 0 {
			result.Visualizer.SampleSize = vz.SampleSize
		}
		if vz.Width != 0 {
			result.Visualizer.Width = vz.Width
		}
		if vz.Height != 0 {
			result.Visualizer.Height = vz.Height
		}
		if vz.PrimaryColor != "" {
			result.Visualizer.PrimaryColor = vz.PrimaryColor
		}
		if vz.AccentColor != "" {
			result.Visualizer.AccentColor = vz.AccentColor
		}
		inh.Visualizer = mark
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		inh.Output = mark
	}

	if profile.Server.Port != 0 {
		result.Server.Port = profile.Server.Port
		inh.Server = mark
	}

	if profile.Log.File != "" {
		result.Log.File = profile.Log.File
	}
	if profile.Log.MaxSizeMB != 0 {
		result.Log.MaxSizeMB = profile.Log.MaxSizeMB
	}
	if profile.Log.MaxBackups != 0 {
		result.Log.MaxBackups = profile.Log.MaxBackups
	}

	return &result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate checks a resolved configuration.
func Validate(cfg *Config) error {
	switch cfg.Audio.SampleRate {
	case 8000, 16000, 22050, 24000, 32000, 44100, 48000, 96000:
	default:
		return fmt.Errorf("audio.sample_rate %d is not a supported rate", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", cfg.Audio.Channels)
	}

	if cfg.Audio.TimesliceMs <= 0 {
		return fmt.Errorf("audio.timeslice_ms must be > 0, got: %d", cfg.Audio.TimesliceMs)
	}

	if err := validatePreferences(cfg.Encoder.Preferences); err != nil {
		return err
	}
	if len(cfg.Encoder.Preferences) == 0 {
		return fmt.Errorf("encoder.preferences cannot be empty")
	}

	if cfg.Visualizer.FPS <= 0 || cfg.Visualizer.FPS > 120 {
		return fmt.Errorf("visualizer.fps must be in 1..120, got: %d", cfg.Visualizer.FPS)
	}
	if cfg.Visualizer.SampleSize < 32 {
		return fmt.Errorf("visualizer.sample_size must be >= 32, got: %d", cfg.Visualizer.SampleSize)
	}
	if cfg.Visualizer.Width <= 0 || cfg.Visualizer.Height <= 0 {
		return fmt.Errorf("visualizer width and height must be > 0")
	}
	for name, c := range map[string]string{
		"visualizer.primary_color": cfg.Visualizer.PrimaryColor,
		"visualizer.accent_color":  cfg.Visualizer.AccentColor,
	} {
		if !hexColor.MatchString(c) {
			return fmt.Errorf("%s must be a #rrggbb color, got: %s", name, c)
		}
	}

	if cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got: %d", cfg.Server.Port)
	}

	return nil
}

func validatePreferences(prefs []string) error {
	for i, p := range prefs {
		p = strings.TrimSpace(p)
		if !strings.HasPrefix(p, "audio/") {
			return fmt.Errorf("encoder.preferences[%d] must be an audio mime type, got: %q", i, p)
		}
	}
	return nil
}

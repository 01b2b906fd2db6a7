package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config carries the tunables of the orchestration core. Everything has a
// default; a config file is optional and env vars always win.
type Config struct {
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Transcribe TranscribeConfig `mapstructure:"transcribe" yaml:"transcribe"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type OutputConfig struct {
	Format      string `mapstructure:"format" yaml:"format"`             // txt, srt, vtt
	AudioFormat string `mapstructure:"audio_format" yaml:"audio_format"` // mp3, m4a, best
}

type TranscribeConfig struct {
	Model    string `mapstructure:"model" yaml:"model"`
	Language string `mapstructure:"language" yaml:"language"` // empty or "auto" = detect
}

type LogConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStderr bool   `mapstructure:"include_stderr" yaml:"include_stderr"`
}

// Load reads dataDir/config.yaml when present, applies defaults, and lets
// YTSCRIBE_* environment variables override everything.
func Load(dataDir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("output.format", "txt")
	v.SetDefault("output.audio_format", "m4a")
	v.SetDefault("transcribe.model", "base")
	v.SetDefault("transcribe.language", "auto")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stderr", false)

	path := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("YTSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Output.Format {
	case "txt", "srt", "vtt":
	default:
		return fmt.Errorf("output.format must be txt, srt, or vtt, got %q", c.Output.Format)
	}

	switch c.Output.AudioFormat {
	case "mp3", "m4a", "best":
	default:
		return fmt.Errorf("output.audio_format must be mp3, m4a, or best, got %q", c.Output.AudioFormat)
	}

	return nil
}

// Package config loads tether's YAML configuration. Every setting has a
// default; the file is optional.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tether configuration.
type Config struct {
	// DB is the SQLite database path.
	DB string `yaml:"db"`

	// Socket is the unix socket path machine daemons dial.
	Socket string `yaml:"socket"`

	Resume    ResumeConfig    `yaml:"resume"`
	Carryover CarryoverConfig `yaml:"carryover"`
	Messages  MessagesConfig  `yaml:"messages"`
}

// ResumeConfig bounds the resume protocol's wait stages.
type ResumeConfig struct {
	// OnlineTimeout bounds the wait for a spawned process to register.
	OnlineTimeout time.Duration `yaml:"online_timeout"`
	// AttachTimeout bounds the wait for the session channel to attach.
	AttachTimeout time.Duration `yaml:"attach_timeout"`
}

// CarryoverConfig bounds the synthesized resume-context message.
type CarryoverConfig struct {
	MaxTurns int `yaml:"max_turns"`
	MaxChars int `yaml:"max_chars"`
}

// MessagesConfig bounds message log pagination.
type MessagesConfig struct {
	DefaultPage int `yaml:"default_page"`
	MaxPage     int `yaml:"max_page"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:     "tether.db",
		Socket: "tether.sock",
		Resume: ResumeConfig{
			OnlineTimeout: 60 * time.Second,
			AttachTimeout: 5 * time.Second,
		},
		Carryover: CarryoverConfig{
			MaxTurns: 20,
			MaxChars: 16000,
		},
		Messages: MessagesConfig{
			DefaultPage: 200,
			MaxPage:     500,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged; an unreadable or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DB == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.Resume.OnlineTimeout <= 0 {
		return fmt.Errorf("resume.online_timeout must be positive")
	}
	if c.Resume.AttachTimeout <= 0 {
		return fmt.Errorf("resume.attach_timeout must be positive")
	}
	if c.Carryover.MaxChars < 100 {
		return fmt.Errorf("carryover.max_chars must be at least 100")
	}
	if c.Messages.MaxPage < c.Messages.DefaultPage {
		return fmt.Errorf("messages.max_page must be >= messages.default_page")
	}
	return nil
}

// Package config loads the bridge configuration from conf.yaml and
// BRIDGE_-prefixed environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/logger"
)

// OpenAIConfig represents an openAIConfig.
type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	RealtimeURL string `mapstructure:"realtime_url"`
	Model       string `mapstructure:"model"`
	Voice       string `mapstructure:"voice"`
}

// Config represents a config.
type Config struct {
	HTTPAddr          string        `mapstructure:"http_addr"`
	PublicURL         string        `mapstructure:"public_url"`
	AudioBufferFrames int           `mapstructure:"audio_buffer_frames"`
	TLSCertPath       string        `mapstructure:"tls_cert_path"`
	TLSKeyPath        string        `mapstructure:"tls_key_path"`
	OpenAI            OpenAIConfig  `mapstructure:"openai"`
	Log               logger.Config `mapstructure:"log"`
}

// Load reads configuration from an optional conf.yaml next to the working
// directory, with environment variables taking precedence.
func Load() (Config, error) {
	return LoadConfig("")
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("bridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := strings.TrimSpace(configPath)
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, err
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	} else {
		v.SetConfigName("conf")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	// OPENAI_API_KEY is the conventional variable name; honor it when the
	// prefixed form is unset.
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	return cfg, nil
}

// Validate reports configuration the bridge cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai api key is required (set BRIDGE_OPENAI_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

// CallStreamURL derives the externally reachable wss:// URL for the telephony
// media stream from the configured public URL.
func (c Config) CallStreamURL() (string, error) {
	raw := strings.TrimSpace(c.PublicURL)
	if raw == "" {
		return "", fmt.Errorf("public_url is not configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid public_url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid public_url %q: missing host", raw)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = "/call"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("public_url", "")
	v.SetDefault("audio_buffer_frames", 512)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.realtime_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("openai.model", "gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("openai.voice", "ash")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "voice-bridge.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

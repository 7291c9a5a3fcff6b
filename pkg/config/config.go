// Package config loads imagepipe settings from defaults, a TOML file, a .env
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "IMAGEPIPE_"

// Config is the full configuration surface.
type Config struct {
	// Address the HTTP server listens on (e.g., ":9099")
	ListenAddr string `toml:"listen_addr" env:"LISTEN_ADDR"`
	Debug      bool   `toml:"debug" env:"DEBUG"`
	Color      bool   `toml:"color" env:"COLOR"`

	// Model server URL and optional bearer credential
	BaseURL string `toml:"base_url" env:"BASE_URL"`
	APIKey  string `toml:"api_key" env:"API_KEY"`

	PipelineName string `toml:"pipeline_name" env:"PIPELINE_NAME"`

	VisionModel       string  `toml:"vision_model" env:"VISION_MODEL"`
	VisionDirective   string  `toml:"vision_directive" env:"VISION_DIRECTIVE"`
	VisionTemperature float64 `toml:"vision_temperature" env:"VISION_TEMPERATURE"`

	GeneralModel       string  `toml:"general_model" env:"GENERAL_MODEL"`
	GeneralDirective   string  `toml:"general_directive" env:"GENERAL_DIRECTIVE"`
	GeneralTemperature float64 `toml:"general_temperature" env:"GENERAL_TEMPERATURE"`

	// DefaultSentinel is the user input that selects GeneralDirective.
	DefaultSentinel string `toml:"default_sentinel" env:"DEFAULT_SENTINEL"`

	ContextSize     int      `toml:"context_size" env:"CONTEXT_SIZE"`
	KeepAlive       Duration `toml:"keep_alive" env:"KEEP_ALIVE"`
	RequestTimeout  Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ValidationRetry Duration `toml:"validation_retry" env:"VALIDATION_RETRY"`
}

// Duration is a time.Duration written as a string such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr:         ":9099",
		Color:              true,
		BaseURL:            "http://localhost:11434",
		PipelineName:       "Image to text Pipeline",
		VisionModel:        "minicpm-v",
		VisionDirective:    "Extract all visible text to markdown blocks.",
		VisionTemperature:  0.1,
		GeneralModel:       "llama3.1",
		GeneralDirective:   "Answer to following without repeating question. Answer should mention proper answer and short explanation why it is correct.",
		GeneralTemperature: 0.7,
		DefaultSentinel:    "_",
		KeepAlive:          Duration{5 * time.Minute},
		ValidationRetry:    Duration{30 * time.Second},
	}
}

// Load builds a Config. An empty path skips the TOML file; a missing .env
// file is ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("could not read .env file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("could not parse environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the model identifiers, the only settings that are required.
func (c Config) Validate() error {
	var result error
	if strings.TrimSpace(c.VisionModel) == "" {
		result = multierror.Append(result, errors.New("vision_model must not be empty"))
	}
	if strings.TrimSpace(c.GeneralModel) == "" {
		result = multierror.Append(result, errors.New("general_model must not be empty"))
	}
	return result
}

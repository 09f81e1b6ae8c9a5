package sigtransport

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// EngineConfig is the environment-driven configuration for a Receiver/
// OutgoingMessage pair, mirroring the teacher's Config/LoadConfig pattern:
// a .env file is loaded if present, then struct tags parse and validate
// process environment variables (spec §2 [ADD]).
type EngineConfig struct {
	LocalNumber   string        `env:"SIG_LOCAL_NUMBER,required"`
	LocalDeviceID uint32        `env:"SIG_LOCAL_DEVICE_ID" envDefault:"1"`
	PushURL       string        `env:"SIG_PUSH_URL,required"`
	TaskTimeout   time.Duration `env:"SIG_TASK_TIMEOUT" envDefault:"30s"`
	RetryCached   bool          `env:"SIG_RETRY_CACHED" envDefault:"true"`
	LogLevel      string        `env:"SIG_LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"SIG_LOG_FORMAT" envDefault:"json"`
	MetricsAddr   string        `env:"SIG_METRICS_ADDR" envDefault:":9102"`
}

// LoadConfig loads an optional .env file then parses EngineConfig from the
// process environment. log may be nil; when non-nil, parse errors are
// logged before being returned.
func LoadConfig(log *zerolog.Logger) (*EngineConfig, error) {
	if err := godotenv.Load(); err != nil && log != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := &EngineConfig{}
	if err := env.Parse(cfg); err != nil {
		if log != nil {
			log.Error().Err(err).Msg("failed to parse engine config")
		}
		return nil, fmt.Errorf("sigtransport: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges LoadConfig's struct tags can't express.
func (c *EngineConfig) Validate() error {
	if c.LocalNumber == "" {
		return fmt.Errorf("sigtransport: SIG_LOCAL_NUMBER is required")
	}
	if c.PushURL == "" {
		return fmt.Errorf("sigtransport: SIG_PUSH_URL is required")
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("sigtransport: SIG_TASK_TIMEOUT must be >= 0")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("sigtransport: SIG_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// LogConfig emits the resolved configuration as structured fields, never
// logging credentials (there are none in EngineConfig; PushURL may embed
// auth and is intentionally omitted).
func (c *EngineConfig) LogConfig(log zerolog.Logger) {
	log.Info().
		Str("local_number", c.LocalNumber).
		Uint32("local_device_id", c.LocalDeviceID).
		Dur("task_timeout", c.TaskTimeout).
		Bool("retry_cached", c.RetryCached).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Str("metrics_addr", c.MetricsAddr).
		Msg("engine config loaded")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adwski/coderoom/backend/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix = "CODEROOM_"

	defaultEnvFile = ".env"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

var (
	ErrParse   = errors.New("unable to parse configuration")
	ErrInvalid = errors.New("invalid configuration")
)

type Config struct {
	APIListenAddr  string
	WSListenAddr   string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string

	ExecutorURL     string
	ExecutorTimeout time.Duration
	ExecTimeout     time.Duration

	DefaultMaxUsers int
	RoomIdleTTL     time.Duration
	ReclaimInterval time.Duration

	OutboxSize     int
	PingInterval   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	RateLimit      float64
	RateBurst      int

	EnvFile string
}

// Load builds the configuration from command line arguments, then from
// CODEROOM_* environment variables for every flag not given explicitly.
// Variables from the env file fill in what the process environment lacks.
func Load(args []string) (*Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	fs := pflag.NewFlagSet("coderoom", pflag.ContinueOnError)

	fs.StringVarP(&cfg.APIListenAddr, "api-listen-addr", "a", ":8080", "api listen address")
	fs.StringVarP(&cfg.WSListenAddr, "ws-listen-addr", "w", ":8888", "websocket session listen address")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", "debug", "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", LogFormatJSON, "log format: json or console")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins",
		[]string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:5173"},
		"allowed CORS and websocket origins, * allows any")

	fs.StringVar(&cfg.ExecutorURL, "executor-url", "https://emkc.org/api/v2/piston", "code execution service base url")
	fs.DurationVar(&cfg.ExecutorTimeout, "executor-timeout", 30*time.Second, "code execution service http timeout")
	fs.DurationVar(&cfg.ExecTimeout, "exec-timeout", 30*time.Second, "room execution deadline")

	fs.IntVar(&cfg.DefaultMaxUsers, "default-max-users", 10, "room capacity when none is requested")
	fs.DurationVar(&cfg.RoomIdleTTL, "room-idle-ttl", 30*time.Minute, "how long an empty room is kept")
	fs.DurationVar(&cfg.ReclaimInterval, "reclaim-interval", time.Minute, "idle room reclamation period")

	fs.IntVar(&cfg.OutboxSize, "outbox-size", 256, "per connection outbound queue size")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", 5*time.Second, "websocket ping interval")
	fs.DurationVar(&cfg.PongWait, "pong-wait", 7*time.Second, "websocket read deadline after ping")
	fs.Int64Var(&cfg.MaxMessageSize, "max-message-size", 1<<20, "max inbound websocket message size in bytes")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", 50, "inbound messages per second per connection, 0 disables")
	fs.IntVar(&cfg.RateBurst, "rate-burst", 100, "inbound message burst per connection")

	fs.StringVar(&cfg.EnvFile, "env-file", defaultEnvFile, "optional file with environment variables")

	if err := fs.Parse(args); err != nil {
		return nil, errors.Join(ErrParse, err)
	}

	fileEnv, err := readEnvFile(cfg.EnvFile, fs.Changed("env-file"))
	if err != nil {
		return nil, errors.Join(ErrParse, err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	var envErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "env-file" {
			return
		}
		v, ok := lookup(EnvName(f.Name))
		if !ok {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			envErr = errors.Join(envErr, fmt.Errorf("%s: %w", EnvName(f.Name), err))
		}
	})
	if envErr != nil {
		return nil, errors.Join(ErrParse, envErr)
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvName maps a flag name to its environment variable.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// readEnvFile returns the variables of path. A missing file is only an
// error when it was requested explicitly.
func readEnvFile(path string, required bool) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, err
	}
	return vals, nil
}

func (cfg *Config) Validate() error {
	var err error
	if _, lErr := zerolog.ParseLevel(cfg.LogLevel); lErr != nil {
		err = errors.Join(err, lErr)
	}
	if cfg.LogFormat != LogFormatJSON && cfg.LogFormat != LogFormatConsole {
		err = errors.Join(err, fmt.Errorf("unknown log format %q", cfg.LogFormat))
	}
	if cfg.ExecutorURL == "" {
		err = errors.Join(err, errors.New("executor url is empty"))
	}
	if cfg.DefaultMaxUsers < model.MinMaxUsers || cfg.DefaultMaxUsers > model.MaxMaxUsers {
		err = errors.Join(err, fmt.Errorf("default max users %d out of range [%d, %d]",
			cfg.DefaultMaxUsers, model.MinMaxUsers, model.MaxMaxUsers))
	}
	if cfg.PongWait <= cfg.PingInterval {
		err = errors.Join(err, errors.New("pong wait must exceed ping interval"))
	}
	if cfg.RateLimit < 0 {
		err = errors.Join(err, errors.New("rate limit must not be negative"))
	}
	if err != nil {
		return errors.Join(ErrInvalid, err)
	}
	return nil
}

// NewLogger builds the process logger.
func (cfg *Config) NewLogger() (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), err
	}
	var logger zerolog.Logger
	if cfg.LogFormat == LogFormatConsole {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Logger().Level(lvl), nil
}

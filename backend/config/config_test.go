package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

func env(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load([]string{"--env-file", ""}, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIListenAddr != ":8080" || cfg.WSListenAddr != ":8888" || cfg.DefaultMaxUsers != 10 {
		t.Errorf("unexpected defaults %s", spew.Sdump(cfg))
	}
	if cfg.RoomIdleTTL != 30*time.Minute || len(cfg.AllowedOrigins) != 3 {
		t.Errorf("unexpected defaults %s", spew.Sdump(cfg))
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "CODEROOM_WS_LISTEN_ADDR=:9999\nCODEROOM_LOG_LEVEL=warn\nCODEROOM_RATE_LIMIT=5\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(
		[]string{"-a", ":7000", "--env-file", envFile},
		env(map[string]string{
			"CODEROOM_API_LISTEN_ADDR": ":1111",
			"CODEROOM_LOG_LEVEL":       "info",
			"CODEROOM_ALLOWED_ORIGINS": "http://a.example,http://b.example",
			"CODEROOM_PING_INTERVAL":   "2s",
		}))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "flag beats env", got: cfg.APIListenAddr, want: ":7000"},
		{name: "env beats file", got: cfg.LogLevel, want: "info"},
		{name: "file fills the gap", got: cfg.WSListenAddr, want: ":9999"},
		{name: "file float", got: cfg.RateLimit, want: float64(5)},
		{name: "env duration", got: cfg.PingInterval, want: 2 * time.Second},
		{name: "env slice", got: len(cfg.AllowedOrigins), want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want error
	}{
		{name: "unknown flag", args: []string{"--nope"}, want: ErrParse},
		{name: "bad env value", env: map[string]string{"CODEROOM_OUTBOX_SIZE": "many"}, want: ErrParse},
		{name: "missing explicit env file", args: []string{"--env-file", "/nonexistent/coderoom.env"}, want: ErrParse},
		{name: "bad log level", args: []string{"-l", "loud"}, want: ErrInvalid},
		{name: "bad log format", args: []string{"--log-format", "xml"}, want: ErrInvalid},
		{name: "capacity", args: []string{"--default-max-users", "1"}, want: ErrInvalid},
		{name: "heartbeat", args: []string{"--ping-interval", "10s", "--pong-wait", "5s"}, want: ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if len(args) < 2 || args[0] != "--env-file" {
				args = append([]string{"--env-file", ""}, args...)
			}
			_, err := load(args, env(tt.env))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMissingDefaultEnvFileIsIgnored(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err = os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if _, err = load(nil, env(nil)); err != nil {
		t.Errorf("unexpected error without .env: %v", err)
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("room-idle-ttl"); got != "CODEROOM_ROOM_IDLE_TTL" {
		t.Errorf("unexpected env name %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: LogFormatConsole}
	logger, err := cfg.NewLogger()
	if err != nil {
		t.Fatal(err)
	}
	if logger.GetLevel().String() != "warn" {
		t.Errorf("unexpected level %s", logger.GetLevel())
	}
}

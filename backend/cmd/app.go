package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/coderoom/backend/config"
	"github.com/adwski/coderoom/backend/executor"
	"github.com/adwski/coderoom/backend/metrics"
	httpServer "github.com/adwski/coderoom/backend/server/http"
	websocketServer "github.com/adwski/coderoom/backend/server/websocket"
	"github.com/adwski/coderoom/backend/service"
	store "github.com/adwski/coderoom/backend/storage/memory"
	sw "github.com/adwski/coderoom/backend/switch"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	l, err := cfg.NewLogger()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create logger")
	}
	logger = l

	m := metrics.New()

	roomStore := store.NewMemStore(store.Config{
		Logger:          &logger,
		Metrics:         m,
		DefaultMaxUsers: cfg.DefaultMaxUsers,
		IdleTTL:         cfg.RoomIdleTTL,
		ReclaimInterval: cfg.ReclaimInterval,
	})
	exec := executor.NewClient(executor.Config{
		Logger:  &logger,
		BaseURL: cfg.ExecutorURL,
		Timeout: cfg.ExecutorTimeout,
	})
	relay := sw.NewSwitch(sw.Config{
		Logger:      &logger,
		Registry:    roomStore,
		Executor:    exec,
		Metrics:     m,
		ExecTimeout: cfg.ExecTimeout,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})
	defer relay.Shutdown()

	svc := service.NewService(service.Config{
		RoomStore: roomStore,
		Switch:    relay,
		Executor:  exec,
		Metrics:   m,
		Logger:    &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		RoomService:    svc,
		ListenAddr:     cfg.APIListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		MetricsHandler: m.Handler(),
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     cfg.WSListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		MaxMessageSize: cfg.MaxMessageSize,
		OutboxSize:     cfg.OutboxSize,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go roomStore.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}

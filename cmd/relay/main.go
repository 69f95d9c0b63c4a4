// The relay command bridges Postgres change notifications to live WebSocket
// clients. It wires the change-source listener, the routing table, the fanout
// sinks and the HTTP surface together and supervises their lifecycle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
	"github.com/illmade-knight/go-change-relay/pkg/pglisten"
	"github.com/illmade-knight/go-change-relay/pkg/redisfan"
	"github.com/illmade-knight/go-change-relay/pkg/relayservice"
	"github.com/illmade-knight/go-change-relay/pkg/routing"
	"github.com/illmade-knight/go-change-relay/pkg/wshub"
)

const (
	serviceName = "change-relay"
	version     = "0.1.0"

	envHTTPPort  = "HTTP_PORT"
	envLogLevel  = "LOG_LEVEL"
	envRedisAddr = "REDIS_ADDR"

	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", serviceName).Logger()
	if lvl, err := zerolog.ParseLevel(os.Getenv(envLogLevel)); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The channel set is compiled in; the listener registers exactly the
	// channels the routing table has rules for.
	table := routing.NewTable(routing.DefaultRules())

	listenCfg := pglisten.LoadConfigWithEnv()
	listenCfg.Channels = table.Channels()
	listener, err := pglisten.NewListener(listenCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create change source listener.")
	}

	hub := wshub.NewHub(logger)

	var sink bridge.Broadcaster = hub
	if addr := os.Getenv(envRedisAddr); addr != "" {
		redisSink, err := redisfan.NewBroadcaster(ctx, &redisfan.Config{Addr: addr}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect Redis broadcaster.")
		}
		defer func() {
			_ = redisSink.Close()
		}()
		sink = bridge.NewMultiBroadcaster(logger, hub, redisSink)
	}

	service, err := bridge.NewService(listener, table, sink, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create bridge service.")
	}

	httpPort := os.Getenv(envHTTPPort)
	if httpPort == "" {
		httpPort = ":8080"
	}
	server := relayservice.NewServer(relayservice.Config{
		HTTPPort:    httpPort,
		ServiceName: serviceName,
		Version:     version,
	}, logger, hub, service, listener, wshub.ServeWS(hub))

	if err := service.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bridge service.")
	}
	// Failure to bind the transport port is the one fatal startup error: no
	// service can be offered at all. Source connection failures, by contrast,
	// only degrade freshness and are retried forever.
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}

	logger.Info().Str("http_port", server.GetHTTPPort()).Msg("Change relay started.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := service.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Bridge service did not stop cleanly.")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not stop cleanly.")
	}
	logger.Info().Msg("Change relay stopped.")
}

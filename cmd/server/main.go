package main

import (
	"context"
	"errors"
	"flag"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/gochat-relay/internal/logging"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

var log = logging.Logger("main")

func main() {
	cfg, err := ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(2)
	}

	b, err := openBackend(cfg)
	if err != nil {
		log.Error("failed to open backend", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}

	relay := server.NewRelay(cfg.Server, b.verifier, b.store, server.NewPresenceTable())
	relayCfg := relay.Config()
	httpServer := server.CreateServer(relayCfg.Port, server.SetupRoutes(relay))

	log.Info("starting GoChat relay",
		"backend", cfg.Backend,
		"addr", relayCfg.Port,
		"origins", relayCfg.AllowedOrigins,
		"default_room", relayCfg.DefaultRoom)

	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Error("server stopped", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		relayCfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"gochat-relay": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				// New upgrades stop first, then live sockets are closed.
				return errors.Join(
					server.ShutdownServer(ctx, httpServer),
					relay.Shutdown(ctx),
					b.close(),
				)
			},
		},
	)

	exitCode := <-wait
	log.Info("relay exited", "code", exitCode)
	os.Exit(exitCode)
}

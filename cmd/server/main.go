package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return exitConfig, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(cfg.LogLevel)

	resolver, err := newResolver(cfg, logger)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(logger)
	store := chat.NewStore(logger, hub, cfg.MessageExpiration)
	srv := server.NewServer(cfg, logger, hub, store, resolver)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	logger.Info("Starting chat server", "expiration", store.Window(), "audience", cfg.Identity.Audience)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return store.Run(ctx)
	})
	g.Go(func() error {
		return server.StartServer(logger, httpServer)
	})
	g.Go(func() error {
		<-ctx.Done()
		httpErr := server.ShutdownServer(logger, httpServer, cfg.ShutdownTimeout)
		hubErr := hub.Shutdown(cfg.ShutdownTimeout)
		return errors.Join(httpErr, hubErr)
	})

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	logger.Info("Chat server stopped")
	return exitOK, nil
}

// newResolver builds the identity resolver from configuration. Without a
// verification key every bearer token is rejected and connections are
// anonymous.
func newResolver(cfg *server.Config, logger *slog.Logger) (*identity.Resolver, error) {
	idCfg := cfg.Identity
	opts := []identity.VerifierOption{
		identity.WithIssuer(idCfg.Issuer),
		identity.WithClientID(idCfg.ClientID),
	}

	var verifier identity.Verifier
	switch {
	case idCfg.PublicKeyFile != "":
		v, err := identity.NewRSAVerifierFromFile(idCfg.PublicKeyFile, opts...)
		if err != nil {
			return nil, err
		}
		verifier = v
	case idCfg.HMACSecret != "":
		v, err := identity.NewHMACVerifier([]byte(idCfg.HMACSecret), opts...)
		if err != nil {
			return nil, err
		}
		verifier = v
	default:
		logger.Warn("No token verification key configured; all connections will be anonymous")
	}

	var directory identity.Directory
	if idCfg.DirectoryURL != "" {
		directory = identity.NewHTTPDirectory(idCfg.DirectoryURL, idCfg.DirectoryToken, nil)
	}

	return identity.NewResolver(logger, verifier, directory, idCfg.Audience), nil
}

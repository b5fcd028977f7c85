package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/npezzotti/go-roomchat/internal/api"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/server"
	"github.com/npezzotti/go-roomchat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	store          string
	tokenFor       int
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[go-roomchat] ", log.LstdFlags)

	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatal("env:", err)
	}
	if env.SigningKey == "" {
		env.SigningKey = defaultSigningKey
	}

	flag.StringVar(&addr, "addr", env.Addr, "server address")
	flag.StringVar(&dsn, "dsn", env.DSN, "database connection string")
	flag.StringVar(&signingKey, "signing-key", env.SigningKey, "base64 encoded signing key")
	flag.StringVar(&store, "store", env.Store, "message store: postgres or memory")
	flag.IntVar(&tokenFor, "token-for", 0, "print a session token for the given user id and exit")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = env.AllowedOrigins
	}
	env.Store = store

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if err := cfg.ApplyEnv(env); err != nil {
		logger.Fatal("config:", err)
	}

	if tokenFor > 0 {
		token, err := api.IssueToken(cfg.SigningKey, tokenFor, api.DefaultTokenExp)
		if err != nil {
			logger.Fatal("issue token:", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(logger, cfg); err != nil {
		logger.Fatal(err)
	}
	logger.Println("shutdown complete")
}

func openStore(logger *log.Logger, cfg *config.Config) (database.ChatRepository, error) {
	if cfg.Store == config.StoreMemory {
		logger.Println("using in-memory store")
		return database.NewMemoryChatRepository(), nil
	}

	if cfg.RunMigrations {
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return database.NewPgChatRepository(cfg.DatabaseDSN)
}

func run(logger *log.Logger, cfg *config.Config) error {
	db, err := openStore(logger, cfg)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, db, statsUpdater, server.Options{
		StoreTimeout:    cfg.StoreTimeout,
		IdleRoomTimeout: cfg.IdleRoomTimeout,
		RoomQueueSize:   cfg.RoomQueueSize,
		HistoryLimit:    cfg.HistoryLimit,
	})
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, db, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("received shutdown signal")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutDownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}

		logger.Println("shutting down chat server...")
		if err := chatServer.Shutdown(shutDownCtx); err != nil {
			return fmt.Errorf("chat server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/backend/memory"
	"github.com/xpresschat/xpress-chat/internal/backend/postgres"
	"github.com/xpresschat/xpress-chat/internal/config"
	"github.com/xpresschat/xpress-chat/internal/gateway"
	"github.com/xpresschat/xpress-chat/internal/stats"
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
	allowedOrigins stringSliceFlag
	devMode        bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.BoolVar(&devMode, "dev", false, "run against the in-memory backend, no database required")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatd] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, devMode)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var (
		store    backend.Store
		accounts gateway.AccountStore
	)
	if cfg.DevMode {
		logger.Println("dev mode: using in-memory backend")
		store = memory.NewStore(logger)
		accounts = memory.NewAuth(logger)
	} else {
		pgStore, err := postgres.NewStore(cfg.DatabaseDSN, logger)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()

		if err := pgStore.Migrate(); err != nil {
			logger.Fatal("migrate:", err)
		}

		store = pgStore
		accounts = postgres.NewAuthFromStore(pgStore, logger)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	gw := gateway.NewGateway(mux, logger, accounts, store, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := gw.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

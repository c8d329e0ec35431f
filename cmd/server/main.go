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
	"github.com/tbellam/go-meeting/internal/api"
	"github.com/tbellam/go-meeting/internal/audit"
	"github.com/tbellam/go-meeting/internal/broadcast"
	"github.com/tbellam/go-meeting/internal/config"
	"github.com/tbellam/go-meeting/internal/control"
	"github.com/tbellam/go-meeting/internal/database"
	"github.com/tbellam/go-meeting/internal/ratelimit"
	"github.com/tbellam/go-meeting/internal/stats"
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
	redisAddr      string
	signingKey     string
	envFile        string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for the rate limiter, empty disables rate limiting")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&envFile, "env-file", ".env", "path to env file")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-meeting] ", log.LstdFlags)

	if err := config.LoadEnv(envFile); err != nil {
		logger.Fatal("load env:", err)
	}

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgMeetingRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	limiter := ratelimit.NewDisabledLimiter(logger)
	if cfg.RedisAddr != "" {
		store := ratelimit.NewRedisCounterStore(cfg.RedisAddr)
		defer store.Close()
		limiter = ratelimit.NewLimiter(logger, store)
	} else {
		logger.Println("no redis address configured, rate limiting disabled")
	}

	recorder := audit.NewRecorder(logger, dbConn, statsUpdater)
	eventServer := broadcast.NewEventServer(logger, statsUpdater)
	controlPlane := control.NewControlPlane(logger, dbConn, limiter, recorder, eventServer, statsUpdater)

	srv := api.NewMeetingApp(mux, logger, controlPlane, eventServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	recorder.Run()
	go eventServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
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

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down event server...")
	if err := eventServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("event server shutdown:", err)
	}

	logger.Println("draining audit log...")
	recorder.Stop()

	logger.Println("shutdown complete")
}

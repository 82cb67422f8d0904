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

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/wya-app/realtime/internal/api"
	"github.com/wya-app/realtime/internal/config"
	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/gateway"
	"github.com/wya-app/realtime/internal/presence"
	sig "github.com/wya-app/realtime/internal/signal"
	"github.com/wya-app/realtime/internal/stats"
)

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
	migrationsPath string
	allowedOrigins stringSliceFlag
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional, flags and process env win
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("WYA_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("WYA_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", envOr("WYA_REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("WYA_SIGNING_KEY"), "base64 encoded signing key")
	flag.StringVar(&migrationsPath, "migrations", envOr("WYA_MIGRATIONS", "migrations"), "path to schema migrations")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[wya-realtime] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgWyaRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(migrationsPath); err != nil {
		logger.Fatal("migrate:", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("redis ping:", err)
	}

	tracker := presence.NewRedisTracker(rdb)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	relay := sig.NewRelay(logger, dbConn, statsUpdater)

	gw, err := gateway.NewGateway(logger, dbConn, tracker, relay, statsUpdater)
	if err != nil {
		logger.Fatal("new gateway:", err)
	}

	srv := api.NewWyaApp(mux, logger, gw, relay, tracker, dbConn, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go gw.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sigs:
		logger.Printf("received signal: %s\n", s)
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

	logger.Println("shutting down gateway...")
	if err := gw.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("gateway shutdown:", err)
	}

	logger.Println("shutdown complete")
}

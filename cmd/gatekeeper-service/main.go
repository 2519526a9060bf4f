package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-gatekeeper/internal/config"
	"ms-gatekeeper/internal/database/migrations"
	"ms-gatekeeper/internal/gatekeeper"
	gatekeeper_db "ms-gatekeeper/internal/gatekeeper/db"
	"ms-gatekeeper/internal/gatekeeper/gate_api"
	"ms-gatekeeper/internal/gatekeeper/qr"
	redislock "ms-gatekeeper/internal/gatekeeper/redis"
	"ms-gatekeeper/internal/gatekeeper/verifier"
	"ms-gatekeeper/internal/kafka"
	"ms-gatekeeper/internal/logger"
)

func connectDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open Postgres: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	log.Info("DATABASE", "Postgres connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	bunDB := connectDatabase(cfg, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "Migrations up to date")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable, gate lease disabled: %v", err))
		redisClient = nil
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MockMode)
		if !cfg.Kafka.MockMode {
			topics := []string{cfg.Kafka.Topics.SecurityCodeMinted, cfg.Kafka.Topics.TicketCheckedIn}
			if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
				log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
			}
		}
		defer producer.Close()
	}

	service := gatekeeper.NewService(
		&gatekeeper_db.DB{Bun: bunDB},
		verifier.WithTimeout(verifier.NewCIP8Verifier(), cfg.Gatekeeper.VerifierTimeout),
		gatekeeper.NewPayloadBuilder(cfg.Gatekeeper.NonceValidity),
		qr.NewCodec(cfg.Gatekeeper.QRSize),
	)
	service.Logger = log
	service.MintedTopic = cfg.Kafka.Topics.SecurityCodeMinted
	service.CheckedInTopic = cfg.Kafka.Topics.TicketCheckedIn
	if redisClient != nil {
		service.Locker = redislock.NewRedis(redisClient)
	}
	if producer != nil {
		service.Producer = producer
	}

	handler := gate_api.NewHandler(service, log)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	handler.RegisterRoutes(r)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Gatekeeper service on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Gatekeeper service shutdown complete")
}

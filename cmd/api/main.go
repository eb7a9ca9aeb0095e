package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evandatickets/ticket-validation/internal/adapters/crdb"
	mongoadapter "github.com/evandatickets/ticket-validation/internal/adapters/mongo"
	"github.com/evandatickets/ticket-validation/internal/adapters/rabbit"
	redisadapter "github.com/evandatickets/ticket-validation/internal/adapters/redis"
	"github.com/evandatickets/ticket-validation/internal/config"
	httphandler "github.com/evandatickets/ticket-validation/internal/http"
	"github.com/evandatickets/ticket-validation/internal/idempotency"
	"github.com/evandatickets/ticket-validation/internal/issuance"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"github.com/evandatickets/ticket-validation/internal/rateLimit"
	"github.com/evandatickets/ticket-validation/internal/redemption"
	"github.com/evandatickets/ticket-validation/internal/scanner"
	"github.com/evandatickets/ticket-validation/internal/token"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("tickets"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	binder := token.NewBinder(cfg.TicketSecret)
	registry := scanner.NewRegistry(repo, redisCache, cfg.ScannerCacheTTL, logger)
	engine := redemption.NewEngine(repo, registry, audit, logger)
	issuer := issuance.NewService(repo, binder, rabbitPub, logger)

	handlers := httphandler.NewHandlers(cfg, engine, issuer, registry, idemp, rabbitPub, logger)

	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

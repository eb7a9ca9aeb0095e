package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evandatickets/ticket-validation/internal/adapters/crdb"
	"github.com/evandatickets/ticket-validation/internal/adapters/rabbit"
	"github.com/evandatickets/ticket-validation/internal/config"
	"github.com/evandatickets/ticket-validation/internal/issuance"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"github.com/evandatickets/ticket-validation/internal/token"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	consumer, err := rabbit.NewConsumer(conn, "issuance.q", "order.paid")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	binder := token.NewBinder(cfg.TicketSecret)
	issuer := issuance.NewService(repo, binder, rabbitPub, logger)

	worker := NewIssuerWorker(issuer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}
	go worker.Run(ctx, deliveries)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown issuer worker")
}

// IssuerWorker drives issuance off order.paid messages from the payment
// subsystem.
type IssuerWorker struct {
	issuer *issuance.Service
	logger observability.Logger
}

func NewIssuerWorker(issuer *issuance.Service, logger observability.Logger) *IssuerWorker {
	return &IssuerWorker{issuer: issuer, logger: logger}
}

func (w *IssuerWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			if err := w.processWithRetry(ctx, msg.Body); err != nil {
				w.logger.WithError(err).Error("failed to issue tickets after retries")
				msg.Nack(false, false)
				continue
			}
			msg.Ack(false)
		}
	}
}

func (w *IssuerWorker) processWithRetry(ctx context.Context, body []byte) error {
	var payload struct {
		OrderID int64 `json:"order_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Unparseable messages never become parseable; no retry.
		return err
	}

	maxRetries := 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			observability.IssueRetries.Inc()
			backoff := time.Duration(1<<i) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if _, lastErr = w.issuer.IssueOrder(ctx, payload.OrderID); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

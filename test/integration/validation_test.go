package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/evandatickets/ticket-validation/internal/adapters/crdb"
	mongoadapter "github.com/evandatickets/ticket-validation/internal/adapters/mongo"
	"github.com/evandatickets/ticket-validation/internal/adapters/rabbit"
	redisadapter "github.com/evandatickets/ticket-validation/internal/adapters/redis"
	"github.com/evandatickets/ticket-validation/internal/config"
	"github.com/evandatickets/ticket-validation/internal/domain"
	httphandler "github.com/evandatickets/ticket-validation/internal/http"
	"github.com/evandatickets/ticket-validation/internal/idempotency"
	"github.com/evandatickets/ticket-validation/internal/issuance"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"github.com/evandatickets/ticket-validation/internal/rateLimit"
	"github.com/evandatickets/ticket-validation/internal/redemption"
	"github.com/evandatickets/ticket-validation/internal/scanner"
	"github.com/evandatickets/ticket-validation/internal/token"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS tickets;
	CREATE TABLE IF NOT EXISTS tickets.users (
		id INT PRIMARY KEY,
		name TEXT,
		email TEXT
	);
	CREATE TABLE IF NOT EXISTS tickets.events (
		id INT PRIMARY KEY,
		title TEXT,
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS tickets.tickets (
		id INT PRIMARY KEY,
		event_id INT,
		name TEXT
	);
	CREATE TABLE IF NOT EXISTS tickets.orders (
		id INT PRIMARY KEY,
		user_id INT,
		order_status TEXT
	);
	CREATE TABLE IF NOT EXISTS tickets.order_items (
		id INT PRIMARY KEY,
		order_id INT,
		ticket_id INT,
		status TEXT
	);
	CREATE TABLE IF NOT EXISTS tickets.ticket_validations (
		ticket_id INT,
		order_item_id INT,
		event_id INT,
		qr_hash TEXT,
		is_scanned BOOL NOT NULL DEFAULT FALSE,
		scan_time TIMESTAMPTZ,
		scanner_id TEXT,
		PRIMARY KEY (ticket_id, order_item_id)
	);
	CREATE TABLE IF NOT EXISTS tickets.scanners (
		username TEXT PRIMARY KEY,
		auth_token TEXT,
		location TEXT,
		role TEXT,
		scan_count INT NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS tickets.outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT,
		aggregate_id TEXT,
		event_type TEXT,
		payload_json BYTES,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT,
		dedupe_key TEXT
	);
`

func TestIntegration_IssueAndValidate(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ListenAddr:      ":8081",
		DBDSN:           "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/tickets?sslmode=disable",
		MongoURI:        "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:       redisHost + ":" + redisPort.Port(),
		RabbitURL:       "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		TicketSecret:    "integration-secret",
		ScannerCacheTTL: 5 * time.Minute,
		IdempotencyTTL:  time.Hour,
		OTLPEndpoint:    "", // Skip otel for test
	}

	// Setup dependencies
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger()
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("tickets"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}

	binder := token.NewBinder(cfg.TicketSecret)
	registry := scanner.NewRegistry(repo, redisCache, cfg.ScannerCacheTTL, logger)
	engine := redemption.NewEngine(repo, registry, audit, logger)
	issuer := issuance.NewService(repo, binder, rabbitPub, logger)

	handlers := httphandler.NewHandlers(cfg, engine, issuer, registry, idemp, rabbitPub, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	// Start server
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Error(err)
		}
	}()
	defer srv.Shutdown(ctx)
	time.Sleep(200 * time.Millisecond)

	base := "http://localhost:8081"

	// Seed a paid order with one active item for an ongoing event.
	now := time.Now()
	seed := []struct {
		sql  string
		args []interface{}
	}{
		{"INSERT INTO users (id, name, email) VALUES ($1, $2, $3)", []interface{}{1, "Ada Wanjiru", "ada@example.com"}},
		{"INSERT INTO events (id, title, start_time, end_time) VALUES ($1, $2, $3, $4)", []interface{}{77, "Summer Fest", now.Add(-time.Hour), now.Add(2 * time.Hour)}},
		{"INSERT INTO tickets (id, event_id, name) VALUES ($1, $2, $3)", []interface{}{5, 77, "VIP"}},
		{"INSERT INTO orders (id, user_id, order_status) VALUES ($1, $2, $3)", []interface{}{42, 1, "paid"}},
		{"INSERT INTO order_items (id, order_id, ticket_id, status) VALUES ($1, $2, $3, $4)", []interface{}{9, 42, 5, "active"}},
	}
	for _, s := range seed {
		if _, err := pool.Exec(ctx, s.sql, s.args...); err != nil {
			t.Fatal(err)
		}
	}

	// Register a scanner
	scannerBody, _ := json.Marshal(map[string]string{
		"username": "gate-a",
		"location": "Main gate",
		"role":     "entry",
	})
	resp, err := http.Post(base+"/v1/scanners", "application/json", bytes.NewReader(scannerBody))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("register scanner failed: %v, status: %d", err, resp.StatusCode)
	}
	resp.Body.Close()

	// Issue tickets for the order
	idempKey := uuid.New().String()
	req, _ := http.NewRequest("POST", base+"/v1/orders/42/tickets", nil)
	req.Header.Set("Idempotency-Key", idempKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue failed: %v, status: %d", err, resp.StatusCode)
	}
	var issued issuance.IssueResult
	json.NewDecoder(resp.Body).Decode(&issued)
	resp.Body.Close()
	if len(issued.Tickets) != 1 {
		t.Fatalf("issued %d tickets, want 1", len(issued.Tickets))
	}

	// Replaying the same Idempotency-Key returns the stored response.
	req, _ = http.NewRequest("POST", base+"/v1/orders/42/tickets", nil)
	req.Header.Set("Idempotency-Key", idempKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay failed: %v, status: %d", err, resp.StatusCode)
	}
	var replayed issuance.IssueResult
	json.NewDecoder(resp.Body).Decode(&replayed)
	resp.Body.Close()
	if replayed.Tickets[0].Token.Hash != issued.Tickets[0].Token.Hash {
		t.Error("replay returned a different token")
	}

	// Validate the issued token
	qr, err := token.Encode(issued.Tickets[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	validateBody, _ := json.Marshal(map[string]string{
		"qr_data":    string(qr),
		"scanner_id": "gate-a",
	})
	resp, err = http.Post(base+"/v1/tickets/validate", "application/json", bytes.NewReader(validateBody))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("validate failed: %v, status: %d", err, resp.StatusCode)
	}
	var validateResp struct {
		Valid  bool   `json:"valid"`
		Status string `json:"status"`
		Event  string `json:"event"`
		User   string `json:"user"`
	}
	json.NewDecoder(resp.Body).Decode(&validateResp)
	resp.Body.Close()
	if !validateResp.Valid || validateResp.Status != domain.EventStatusOngoing {
		t.Fatalf("validate response: %+v", validateResp)
	}
	if validateResp.Event != "Summer Fest" || validateResp.User != "Ada Wanjiru" {
		t.Errorf("validate response: %+v", validateResp)
	}

	// A second scan of the same ticket is rejected.
	resp, err = http.Post(base+"/v1/tickets/validate", "application/json", bytes.NewReader(validateBody))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second scan status: %d, want 400", resp.StatusCode)
	}
	var rejected struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	json.NewDecoder(resp.Body).Decode(&rejected)
	resp.Body.Close()
	if rejected.Valid || rejected.Reason != "Ticket already used" {
		t.Errorf("second scan response: %+v", rejected)
	}

	// The scan counter advanced and a scanned event landed in the outbox.
	var scanCount int
	if err := pool.QueryRow(ctx, "SELECT scan_count FROM scanners WHERE username = 'gate-a'").Scan(&scanCount); err != nil {
		t.Fatal(err)
	}
	if scanCount != 1 {
		t.Errorf("scan_count = %d, want 1", scanCount)
	}
	var outboxCount int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM outbox WHERE event_type = 'ticket.scanned'").Scan(&outboxCount); err != nil {
		t.Fatal(err)
	}
	if outboxCount != 1 {
		t.Errorf("outbox ticket.scanned rows = %d, want 1", outboxCount)
	}
}

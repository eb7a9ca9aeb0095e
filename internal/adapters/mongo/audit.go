package mongo

import (
	"context"
	"time"

	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger keeps the operator-facing scan trail. Writes are best-effort:
// a Mongo outage must never block the door.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("scan_audit"),
		logger: logger,
	}
}

type scanAuditDoc struct {
	ID             string    `bson:"_id"`
	Scanner        string    `bson:"scanner"`
	TicketID       int64     `bson:"ticket_id"`
	OrderItemID    int64     `bson:"order_item_id"`
	EventID        int64     `bson:"event_id"`
	Accepted       bool      `bson:"accepted"`
	Reasons        []string  `bson:"reasons,omitempty"`
	SuspectForgery bool      `bson:"suspect_forgery"`
	Timestamp      time.Time `bson:"timestamp"`
}

func (a *AuditLogger) RecordAttempt(ctx context.Context, audit domain.ScanAudit) error {
	doc := scanAuditDoc{
		ID:             audit.ID.String(),
		Scanner:        audit.Scanner,
		TicketID:       audit.TicketID,
		OrderItemID:    audit.OrderItemID,
		EventID:        audit.EventID,
		Accepted:       audit.Accepted,
		Reasons:        audit.Reasons,
		SuspectForgery: audit.SuspectForgery,
		Timestamp:      audit.Timestamp,
	}
	_, err := a.coll.InsertOne(ctx, doc)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert scan audit")
		return err
	}
	return nil
}

package redemption

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"github.com/evandatickets/ticket-validation/internal/scanner"
	"github.com/evandatickets/ticket-validation/internal/token"
	"github.com/google/uuid"
)

// redeemTxRetries bounds in-process retries of the redemption transaction
// after a serialization conflict.
const redeemTxRetries = 3

// Audit receives one entry per redemption attempt. Implementations are
// best-effort sinks; the engine ignores their errors.
type Audit interface {
	RecordAttempt(ctx context.Context, a domain.ScanAudit) error
}

// Engine runs the redemption protocol: authorize the scanner, decode the
// credential, then check and flip the validation row in one transaction.
// At most one attempt per ticket instance ever succeeds; the row lock taken
// by ReadForRedemption serializes racing scanners.
type Engine struct {
	store    domain.ValidationStore
	scanners *scanner.Registry
	audit    Audit
	logger   observability.Logger
	now      func() time.Time
}

func NewEngine(store domain.ValidationStore, scanners *scanner.Registry, audit Audit, logger observability.Logger) *Engine {
	return &Engine{
		store:    store,
		scanners: scanners,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

type Result struct {
	EventID    int64
	EventName  string
	HolderName string
	ScannedAt  time.Time
	Scanner    string
}

// Redeem processes one scan. On success the returned error is nil and the
// ticket instance is permanently marked scanned. Rejections come back as
// ErrUnauthorized, MalformedTokenError, ErrNotFound or ViolationError;
// anything else is an internal failure whose details stay out of the
// caller-visible response.
func (e *Engine) Redeem(ctx context.Context, qrData, scannerID string) (*Result, error) {
	sc, err := e.scanners.Authorize(ctx, scannerID)
	if errors.Is(err, domain.ErrUnauthorized) {
		observability.ValidationsTotal.WithLabelValues("unauthorized").Inc()
		e.logger.WithField("scanner", scannerID).Warn("unauthorized scanner")
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		observability.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "authorize scanner")
	}

	dec, err := token.Decode(qrData)
	if err != nil {
		observability.ValidationsTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}
	tok := dec.Token

	if dec.RawHash {
		ticketID, orderItemID, err := e.store.FindByHash(ctx, tok.Hash)
		if errors.Is(err, domain.ErrNotFound) {
			observability.ValidationsTotal.WithLabelValues("not_found").Inc()
			return nil, domain.ErrNotFound
		}
		if err != nil {
			observability.ValidationsTotal.WithLabelValues("error").Inc()
			return nil, errors.Wrap(err, "find by hash")
		}
		tok.TicketID, tok.OrderItemID = ticketID, orderItemID
	}

	scannedAt := e.now()
	var snap *domain.RedemptionSnapshot
	var violation *domain.ViolationError
	suspectForgery := false

	run := func(tx domain.RedemptionTx) error {
		var err error
		snap, err = tx.ReadForRedemption(ctx, tok.TicketID, tok.OrderItemID)
		if err != nil {
			return err
		}

		// Every check runs; the operator sees the full list in one scan.
		var reasons []string
		eventStatus := domain.EventStatusUnknown

		if !token.Equal(snap.BoundHash, tok.Hash) {
			reasons = append(reasons, domain.ReasonSecurityMismatch)
			suspectForgery = true
		}
		if snap.IsScanned {
			reasons = append(reasons, domain.ReasonAlreadyUsed)
		}
		if snap.OrderStatus != "paid" {
			reasons = append(reasons, domain.ReasonPaymentIncomplete)
		}
		if snap.ItemStatus != "active" {
			reasons = append(reasons, domain.ReasonItemInactive)
		}
		// Event start is inclusive, event end exclusive: a scan at the
		// exact start is valid, one at the exact end is not.
		if scannedAt.Before(snap.EventStart) {
			reasons = append(reasons, fmt.Sprintf("Event has not started yet. Starts at %s", snap.EventStart.Format(time.RFC3339)))
			eventStatus = domain.EventStatusNotStarted
		} else if !scannedAt.Before(snap.EventEnd) {
			reasons = append(reasons, fmt.Sprintf("Event has ended at %s", snap.EventEnd.Format(time.RFC3339)))
			eventStatus = domain.EventStatusEnded
		}

		if len(reasons) > 0 {
			violation = &domain.ViolationError{Reasons: reasons, EventStatus: eventStatus, EventID: snap.EventID}
			return violation
		}

		if err := tx.MarkScanned(ctx, tok.TicketID, tok.OrderItemID, scannerID, scannedAt); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"ticket_id":     tok.TicketID,
			"order_item_id": tok.OrderItemID,
			"event_id":      snap.EventID,
			"scanner":       scannerID,
			"scanned_at":    scannedAt.Format(time.RFC3339),
		})
		return tx.InsertOutbox(ctx, domain.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "ticket",
			AggregateID:   fmt.Sprintf("%d:%d", tok.TicketID, tok.OrderItemID),
			EventType:     "ticket.scanned",
			Payload:       payload,
			DedupeKey:     uuid.NewString(),
		})
	}

	// A serialization conflict means another attempt committed first; the
	// retried read sees its flip and reports the ticket as used.
	txStart := time.Now()
	for attempt := 0; ; attempt++ {
		snap, violation, suspectForgery = nil, nil, false
		err = e.store.WithRedemptionTx(ctx, run)
		if !errors.Is(err, domain.ErrSerializationFailure) || attempt == redeemTxRetries {
			break
		}
	}
	observability.ValidationTxDuration.Observe(time.Since(txStart).Seconds())

	switch {
	case err == nil:
		observability.ValidationsTotal.WithLabelValues("accepted").Inc()
	case violation != nil:
		observability.ValidationsTotal.WithLabelValues("rejected").Inc()
		if suspectForgery {
			observability.ForgerySuspicions.Inc()
			e.logger.WithField("scanner", scannerID).
				WithField("ticket_id", tok.TicketID).
				WithField("order_item_id", tok.OrderItemID).
				Warn("hash mismatch on presented credential")
		}
	case errors.Is(err, domain.ErrNotFound):
		observability.ValidationsTotal.WithLabelValues("not_found").Inc()
		return nil, domain.ErrNotFound
	default:
		observability.ValidationsTotal.WithLabelValues("error").Inc()
		// Full detail goes to the operator log only; the caller gets a
		// generic internal error.
		e.logger.WithError(err).Error("redemption transaction failed")
		return nil, errors.Wrap(err, "redemption transaction")
	}

	e.recordAudit(ctx, tok, scannerID, snap, violation, suspectForgery, scannedAt)

	if violation != nil {
		return nil, violation
	}

	// Accounting only: failure is logged inside RecordScan and never undoes
	// the committed redemption.
	e.scanners.RecordScan(ctx, sc.Username)

	return &Result{
		EventID:    snap.EventID,
		EventName:  snap.EventName,
		HolderName: snap.HolderName,
		ScannedAt:  scannedAt,
		Scanner:    scannerID,
	}, nil
}

func (e *Engine) recordAudit(ctx context.Context, tok domain.PortableToken, scannerID string, snap *domain.RedemptionSnapshot, violation *domain.ViolationError, suspectForgery bool, at time.Time) {
	if e.audit == nil {
		return
	}
	audit := domain.ScanAudit{
		ID:             uuid.New(),
		Scanner:        scannerID,
		TicketID:       tok.TicketID,
		OrderItemID:    tok.OrderItemID,
		Accepted:       violation == nil,
		SuspectForgery: suspectForgery,
		Timestamp:      at,
	}
	if snap != nil {
		audit.EventID = snap.EventID
	}
	if violation != nil {
		audit.Reasons = violation.Reasons
	}
	_ = e.audit.RecordAttempt(ctx, audit)
}

package issuance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"github.com/evandatickets/ticket-validation/internal/token"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Publisher hands the rendered tokens to whatever turns them into QR
// images, PDFs and emails. That pipeline is outside this service.
type Publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Service binds every paid, active item of an order to a credential hash
// and persists the validation rows the redemption engine later flips.
type Service struct {
	store  domain.ValidationStore
	binder *token.Binder
	pub    Publisher
	logger observability.Logger
}

func NewService(store domain.ValidationStore, binder *token.Binder, pub Publisher, logger observability.Logger) *Service {
	return &Service{store: store, binder: binder, pub: pub, logger: logger}
}

type IssuedTicket struct {
	Token       domain.PortableToken `json:"token"`
	TicketName  string               `json:"ticket_name"`
	EventID     int64                `json:"event_id"`
	EventName   string               `json:"event_name"`
	EventStart  time.Time            `json:"event_start"`
	HolderName  string               `json:"holder_name"`
	HolderEmail string               `json:"holder_email"`
}

type IssueResult struct {
	OrderID int64          `json:"order_id"`
	Tickets []IssuedTicket `json:"tickets"`
}

// IssueOrder is idempotent: re-running it recomputes the hashes and
// refreshes qr_hash on the existing rows, leaving any recorded scans
// untouched. Tokens from earlier runs stay valid because the hash inputs
// have not changed.
func (s *Service) IssueOrder(ctx context.Context, orderID int64) (*IssueResult, error) {
	items, err := s.store.IssuableItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrNotFound
	}

	records := make([]domain.ValidationRecord, len(items))
	issued := make([]IssuedTicket, len(items))

	g, _ := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			hash := s.binder.Bind(item.TicketID, item.OrderItemID)
			records[i] = domain.ValidationRecord{
				TicketID:    item.TicketID,
				OrderItemID: item.OrderItemID,
				EventID:     item.EventID,
				BoundHash:   hash,
			}
			issued[i] = IssuedTicket{
				Token: domain.PortableToken{
					TicketID:    item.TicketID,
					OrderItemID: item.OrderItemID,
					Hash:        hash,
				},
				TicketName:  item.TicketName,
				EventID:     item.EventID,
				EventName:   item.EventName,
				EventStart:  item.EventStart,
				HolderName:  item.HolderName,
				HolderEmail: item.HolderEmail,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.store.UpsertValidations(ctx, records); err != nil {
		return nil, err
	}
	observability.TicketsIssued.Add(float64(len(records)))

	result := &IssueResult{OrderID: orderID, Tickets: issued}

	if s.pub != nil {
		payload, _ := json.Marshal(result)
		msg := amqp.Publishing{
			MessageId:   uuid.NewString(),
			ContentType: "application/json",
			Body:        payload,
		}
		if err := s.pub.Publish(ctx, "ticket.issued", msg); err != nil {
			// The rows are committed; the renderer can be replayed from the
			// API, so a publish failure does not fail issuance.
			s.logger.WithError(err).WithField("order_id", orderID).Error("failed to publish ticket.issued")
		}
	}

	return result, nil
}

package outbox

import (
	"context"
	"time"

	"github.com/evandatickets/ticket-validation/internal/adapters/crdb"
	"github.com/evandatickets/ticket-validation/internal/adapters/rabbit"
	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/evandatickets/ticket-validation/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher drains ticket.scanned records committed alongside redemptions
// and pushes them to the message broker.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.repo.DrainOutbox(ctx, 10, func(rec domain.OutboxRecord) error {
				observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
				msg := amqp.Publishing{
					MessageId:   rec.DedupeKey,
					ContentType: "application/json",
					Body:        rec.Payload,
				}
				if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
					p.logger.WithError(err).Error("failed to publish outbox record")
					return err
				}
				return nil
			})
			if err != nil {
				p.logger.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

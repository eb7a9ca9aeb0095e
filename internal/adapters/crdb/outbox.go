package crdb

import (
	"context"
	"time"

	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/jackc/pgx/v5"
)

func insertOutbox(ctx context.Context, tx pgx.Tx, rec domain.OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, rec.ID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.Payload, rec.DedupeKey)
	return err
}

// DrainOutbox locks up to limit unpublished records, hands each to publish
// and marks the successful ones published. One transaction end to end, so
// the SKIP LOCKED row locks hold until commit and concurrent publishers
// never pick up the same record.
func (r *Repository) DrainOutbox(ctx context.Context, limit int, publish func(domain.OutboxRecord) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
			FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var records []domain.OutboxRecord
		for rows.Next() {
			var rec domain.OutboxRecord
			err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
			if err != nil {
				rows.Close()
				return err
			}
			records = append(records, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, rec := range records {
			if publish(rec) != nil {
				// Stays NEW; the next tick retries it.
				continue
			}
			_, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
			`, rec.ID, time.Now())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

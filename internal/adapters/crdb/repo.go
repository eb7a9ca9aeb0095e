package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapSerializationFailure(err)
	}
	// CockroachDB can report the conflict at commit time as well.
	if err := tx.Commit(ctx); err != nil {
		return mapSerializationFailure(err)
	}
	return nil
}

func mapSerializationFailure(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

// WithRedemptionTx exposes the transaction to the redemption engine behind
// the domain port, keeping pgx out of the engine.
func (r *Repository) WithRedemptionTx(ctx context.Context, fn func(domain.RedemptionTx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&redemptionTx{tx: tx})
	})
}

type redemptionTx struct {
	tx pgx.Tx
}

// ReadForRedemption joins the validation row with the payment, item and
// event facts it is judged against. FOR UPDATE OF tv serializes concurrent
// attempts for the same ticket instance; different instances never block
// each other.
func (t *redemptionTx) ReadForRedemption(ctx context.Context, ticketID, orderItemID int64) (*domain.RedemptionSnapshot, error) {
	var snap domain.RedemptionSnapshot
	err := t.tx.QueryRow(ctx, `
		SELECT tv.qr_hash, tv.is_scanned, o.order_status, oi.status,
		       e.id, e.title, e.start_time, e.end_time, u.name
		FROM ticket_validations tv
		JOIN events e ON tv.event_id = e.id
		JOIN order_items oi ON tv.order_item_id = oi.id
		JOIN orders o ON oi.order_id = o.id
		JOIN users u ON o.user_id = u.id
		WHERE tv.ticket_id = $1 AND tv.order_item_id = $2
		FOR UPDATE OF tv
	`, ticketID, orderItemID).Scan(
		&snap.BoundHash, &snap.IsScanned, &snap.OrderStatus, &snap.ItemStatus,
		&snap.EventID, &snap.EventName, &snap.EventStart, &snap.EventEnd, &snap.HolderName,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read for redemption")
	}
	return &snap, nil
}

// MarkScanned flips is_scanned exactly once. The is_scanned = FALSE guard
// backs up the engine's own check: the row is the single source of truth
// under concurrency.
func (t *redemptionTx) MarkScanned(ctx context.Context, ticketID, orderItemID int64, scanner string, at time.Time) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE ticket_validations
		SET is_scanned = TRUE, scan_time = $3, scanner_id = $4
		WHERE ticket_id = $1 AND order_item_id = $2 AND is_scanned = FALSE
	`, ticketID, orderItemID, at, scanner)
	if err != nil {
		return errors.Wrap(err, "mark scanned")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlreadyScanned
	}
	return nil
}

func (t *redemptionTx) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	return insertOutbox(ctx, t.tx, rec)
}

// UpsertValidations writes one validation row per issued ticket instance.
// Re-issuing overwrites qr_hash only; a prior scan is never erased.
func (r *Repository) UpsertValidations(ctx context.Context, records []domain.ValidationRecord) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			_, err := tx.Exec(ctx, `
				INSERT INTO ticket_validations (ticket_id, order_item_id, event_id, qr_hash, is_scanned)
				VALUES ($1, $2, $3, $4, FALSE)
				ON CONFLICT (ticket_id, order_item_id) DO UPDATE SET qr_hash = excluded.qr_hash
			`, rec.TicketID, rec.OrderItemID, rec.EventID, rec.BoundHash)
			if err != nil {
				return errors.Wrap(err, "upsert validation")
			}
		}
		return nil
	})
}

func (r *Repository) FindByHash(ctx context.Context, hash string) (int64, int64, error) {
	var ticketID, orderItemID int64
	err := r.pool.QueryRow(ctx, `
		SELECT ticket_id, order_item_id
		FROM ticket_validations
		WHERE qr_hash = $1
		LIMIT 1
	`, hash).Scan(&ticketID, &orderItemID)
	if err == pgx.ErrNoRows {
		return 0, 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, 0, errors.Wrap(err, "find by hash")
	}
	return ticketID, orderItemID, nil
}

func (r *Repository) IssuableItems(ctx context.Context, orderID int64) ([]domain.IssuableItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, oi.id, e.id, t.name, e.title, e.start_time, u.name, u.email
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN tickets t ON oi.ticket_id = t.id
		JOIN events e ON t.event_id = e.id
		JOIN users u ON o.user_id = u.id
		WHERE o.id = $1 AND o.order_status = 'paid' AND oi.status = 'active'
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "issuable items")
	}
	defer rows.Close()

	var items []domain.IssuableItem
	for rows.Next() {
		var item domain.IssuableItem
		if err := rows.Scan(&item.TicketID, &item.OrderItemID, &item.EventID,
			&item.TicketName, &item.EventName, &item.EventStart,
			&item.HolderName, &item.HolderEmail); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) ScannerByName(ctx context.Context, username string) (*domain.Scanner, error) {
	var s domain.Scanner
	err := r.pool.QueryRow(ctx, `
		SELECT username, auth_token, location, role, scan_count
		FROM scanners WHERE username = $1
	`, username).Scan(&s.Username, &s.AuthToken, &s.Location, &s.Role, &s.ScanCount)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanner by name")
	}
	return &s, nil
}

// IncrementScanCount is an operational counter, updated outside the
// redemption transaction. Lost increments under commit races are accepted.
func (r *Repository) IncrementScanCount(ctx context.Context, username string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE scanners SET scan_count = scan_count + 1 WHERE username = $1
	`, username)
	if err != nil {
		return errors.Wrap(err, "increment scan count")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) InsertScanner(ctx context.Context, s domain.Scanner) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scanners (username, auth_token, location, role, scan_count)
		VALUES ($1, $2, $3, $4, 0)
	`, s.Username, s.AuthToken, s.Location, s.Role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "insert scanner")
	}
	return nil
}

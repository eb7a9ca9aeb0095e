package domain

import (
	"context"
	"time"
)

// RedemptionTx is the slice of the store visible inside one redemption
// transaction. ReadForRedemption must hold an exclusive lock on the
// validation row until the transaction ends.
type RedemptionTx interface {
	ReadForRedemption(ctx context.Context, ticketID, orderItemID int64) (*RedemptionSnapshot, error)
	MarkScanned(ctx context.Context, ticketID, orderItemID int64, scanner string, at time.Time) error
	InsertOutbox(ctx context.Context, rec OutboxRecord) error
}

// ValidationStore owns the ticket_validations table.
type ValidationStore interface {
	// UpsertValidations writes one validation row per item in a single
	// transaction. Re-issuing overwrites qr_hash only; scan state survives.
	UpsertValidations(ctx context.Context, records []ValidationRecord) error

	// FindByHash resolves a bare 64-hex credential to its ticket instance.
	FindByHash(ctx context.Context, hash string) (ticketID, orderItemID int64, err error)

	// IssuableItems lists the paid, active items of an order.
	IssuableItems(ctx context.Context, orderID int64) ([]IssuableItem, error)

	// WithRedemptionTx runs fn inside a transaction; any error from fn
	// rolls the transaction back.
	WithRedemptionTx(ctx context.Context, fn func(RedemptionTx) error) error
}

// ScannerStore owns the scanners table.
type ScannerStore interface {
	ScannerByName(ctx context.Context, username string) (*Scanner, error)
	IncrementScanCount(ctx context.Context, username string) error
	InsertScanner(ctx context.Context, s Scanner) error
}

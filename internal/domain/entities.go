package domain

import (
	"time"

	"github.com/google/uuid"
)

// PortableToken is the credential embedded in a ticket's QR code. It is
// encoded at issuance and decoded at the door; it is never persisted as-is.
type PortableToken struct {
	TicketID    int64  `json:"ticket_id"`
	OrderItemID int64  `json:"order_item_id"`
	Hash        string `json:"hash"`
}

// ValidationRecord is the durable redemption state of one purchased ticket
// instance, keyed by (ticket_id, order_item_id). is_scanned only ever moves
// from false to true.
type ValidationRecord struct {
	TicketID    int64
	OrderItemID int64
	EventID     int64
	BoundHash   string
	IsScanned   bool
	ScanTime    *time.Time
	ScannerID   *string
}

// RedemptionSnapshot is the locked read taken inside the redemption
// transaction: the validation row plus the payment, item and event facts
// it is judged against.
type RedemptionSnapshot struct {
	BoundHash   string
	IsScanned   bool
	OrderStatus string
	ItemStatus  string
	EventID     int64
	EventName   string
	EventStart  time.Time
	EventEnd    time.Time
	HolderName  string
}

// Scanner is a registered scanning device or operator.
type Scanner struct {
	Username  string
	AuthToken string
	Location  string
	Role      string
	ScanCount int64
}

func NewScanner(username, location, role string) Scanner {
	return Scanner{
		Username:  username,
		AuthToken: uuid.NewString(),
		Location:  location,
		Role:      role,
	}
}

// IssuableItem is one paid, active order item eligible for ticket issuance.
type IssuableItem struct {
	TicketID    int64
	OrderItemID int64
	EventID     int64
	TicketName  string
	EventName   string
	EventStart  time.Time
	HolderName  string
	HolderEmail string
}

// ScanAudit is the operator-facing audit trail entry for one redemption
// attempt, accepted or not.
type ScanAudit struct {
	ID             uuid.UUID
	Scanner        string
	TicketID       int64
	OrderItemID    int64
	EventID        int64
	Accepted       bool
	Reasons        []string
	SuspectForgery bool
	Timestamp      time.Time
}

// OutboxRecord is a pending integration event written in the same
// transaction as the state change it announces.
type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

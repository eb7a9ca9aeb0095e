package domain

import (
	"errors"
	"strings"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrUnauthorized         = errors.New("unauthorized scanner")
	ErrAlreadyScanned       = errors.New("already scanned")
	ErrInvalidInput         = errors.New("invalid input")
)

// Violation reasons, worded the way door staff see them.
const (
	ReasonSecurityMismatch  = "Security validation failed"
	ReasonAlreadyUsed       = "Ticket already used"
	ReasonPaymentIncomplete = "Payment not completed"
	ReasonItemInactive      = "Ticket not active"
)

// Event status tags returned alongside rejections and successes.
const (
	EventStatusOngoing    = "ongoing"
	EventStatusNotStarted = "not_started"
	EventStatusEnded      = "ended"
	EventStatusUnknown    = "unknown"
)

// MalformedTokenError reports every decoding problem at once so the operator
// does not have to rescan to discover the next one.
type MalformedTokenError struct {
	Reasons []string
}

func (e *MalformedTokenError) Error() string {
	return strings.Join(e.Reasons, " | ")
}

// ViolationError carries the full set of business-rule violations found
// inside one redemption transaction. The transaction that produced it was
// rolled back; nothing was mutated.
type ViolationError struct {
	Reasons     []string
	EventStatus string
	EventID     int64
}

func (e *ViolationError) Error() string {
	return strings.Join(e.Reasons, ", ")
}

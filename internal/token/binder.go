package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// Binder computes the one-way hash that ties a ticket instance to the
// server secret. The same inputs always produce the same hash, so the
// redemption path can recompute and compare instead of trusting the token.
type Binder struct {
	secret string
}

func NewBinder(secret string) *Binder {
	return &Binder{secret: secret}
}

// Bind hashes ticket id, order item id and the secret, concatenated in
// that order, with SHA-256. The result is 64 lowercase hex characters.
func (b *Binder) Bind(ticketID, orderItemID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(ticketID, 10) + strconv.FormatInt(orderItemID, 10) + b.secret))
	return hex.EncodeToString(sum[:])
}

// Equal compares two hashes without leaking the match position through
// timing. Byte-exact: no case folding, no trimming.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

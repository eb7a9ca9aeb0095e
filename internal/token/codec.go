package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/evandatickets/ticket-validation/internal/domain"
)

// HashLength is the length of a rendered SHA-256 hex digest.
const HashLength = 64

// Hint is surfaced to scanning clients when the input matches none of the
// accepted shapes.
const Hint = "Provide either: 1) Raw 64-char hash, 2) Base64, or 3) JSON"

// Decoded is a presented credential normalized to one in-memory shape.
// RawHash marks a bare-hash input: the ticket instance ids are not in the
// token and must be resolved by store lookup.
type Decoded struct {
	Token   domain.PortableToken
	RawHash bool
}

// Decode parses a presented credential, trying the three accepted shapes
// in order: a bare 64-hex hash, base64-encoded JSON, plain JSON. Field
// problems are accumulated so one scan reports every defect at once.
func Decode(raw string) (Decoded, error) {
	if isHex64(raw) {
		// Stored hashes are lowercase hex; fold here so the lookup and the
		// later byte-exact comparison agree.
		return Decoded{
			Token:   domain.PortableToken{Hash: strings.ToLower(raw)},
			RawHash: true,
		}, nil
	}

	obj, ok := decodeBase64JSON(raw)
	if !ok {
		obj, ok = decodeJSONObject(raw)
	}
	if !ok {
		return Decoded{}, &domain.MalformedTokenError{Reasons: []string{"Invalid QR format"}}
	}

	tok, reasons := extractFields(obj)
	if len(reasons) > 0 {
		return Decoded{}, &domain.MalformedTokenError{Reasons: reasons}
	}
	return Decoded{Token: tok}, nil
}

// Encode renders the canonical token JSON handed to the QR renderer.
func Encode(tok domain.PortableToken) ([]byte, error) {
	return json.Marshal(tok)
}

func isHex64(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func decodeBase64JSON(raw string) (map[string]json.RawMessage, bool) {
	s := strings.TrimSpace(raw)
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !utf8.Valid(decoded) {
		return nil, false
	}
	return decodeJSONObject(string(decoded))
}

func decodeJSONObject(raw string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func extractFields(obj map[string]json.RawMessage) (domain.PortableToken, []string) {
	var tok domain.PortableToken
	var reasons []string

	intField := func(name string, dst *int64) {
		rawVal, present := obj[name]
		if !present {
			reasons = append(reasons, fmt.Sprintf("Missing field: %s", name))
			return
		}
		dec := json.NewDecoder(bytes.NewReader(rawVal))
		dec.UseNumber()
		var num json.Number
		if err := dec.Decode(&num); err != nil {
			reasons = append(reasons, fmt.Sprintf("Invalid type for %s, expected int", name))
			return
		}
		v, err := num.Int64()
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("Invalid type for %s, expected int", name))
			return
		}
		*dst = v
	}

	intField("ticket_id", &tok.TicketID)
	intField("order_item_id", &tok.OrderItemID)

	rawVal, present := obj["hash"]
	switch {
	case !present:
		reasons = append(reasons, "Missing field: hash")
	default:
		var s string
		if err := json.Unmarshal(rawVal, &s); err != nil {
			reasons = append(reasons, "Invalid type for hash, expected string")
		} else if len(s) != HashLength {
			reasons = append(reasons, "Invalid hash length (expected 64 chars)")
		} else {
			tok.Hash = s
		}
	}

	return tok, reasons
}

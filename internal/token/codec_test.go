package token

import (
	"errors"
	"strings"
	"testing"

	"github.com/evandatickets/ticket-validation/internal/domain"
)

const (
	fixtureHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fixtureJSON = `{"ticket_id":5,"order_item_id":9,"hash":"` + fixtureHash + `"}`
	// base64(fixtureJSON) with its trailing padding stripped, as QR
	// payloads in the wild often arrive.
	fixtureB64Unpadded = "eyJ0aWNrZXRfaWQiOjUsIm9yZGVyX2l0ZW1faWQiOjksImhhc2giOiJhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhIn0"
)

func TestDecodeShapesAgree(t *testing.T) {
	for name, input := range map[string]string{
		"plain json":     fixtureJSON,
		"base64":         fixtureB64Unpadded + "=",
		"base64 no pad":  fixtureB64Unpadded,
		"base64 spacing": "  " + fixtureB64Unpadded + "  ",
	} {
		dec, err := Decode(input)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if dec.RawHash {
			t.Errorf("%s: unexpectedly flagged as raw hash", name)
		}
		want := domain.PortableToken{TicketID: 5, OrderItemID: 9, Hash: fixtureHash}
		if dec.Token != want {
			t.Errorf("%s: got %+v, want %+v", name, dec.Token, want)
		}
	}
}

func TestDecodeRawHash(t *testing.T) {
	dec, err := Decode(fixtureHash)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.RawHash {
		t.Fatal("64-hex input not recognized as raw hash")
	}
	if dec.Token.Hash != fixtureHash || dec.Token.TicketID != 0 {
		t.Errorf("got %+v", dec.Token)
	}

	upper, err := Decode(strings.ToUpper(fixtureHash))
	if err != nil {
		t.Fatal(err)
	}
	if upper.Token.Hash != fixtureHash {
		t.Errorf("uppercase hash not folded for lookup: %s", upper.Token.Hash)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	orig := domain.PortableToken{TicketID: 42, OrderItemID: 7, Hash: fixtureHash}
	encoded, err := Encode(orig)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := Decode(string(encoded))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Token != orig {
		t.Errorf("round trip changed token: %+v", dec.Token)
	}
}

func TestDecodeUnrecognizedShape(t *testing.T) {
	for _, input := range []string{"not a token", "12345", "[1,2,3]", `"just a string"`, ""} {
		_, err := Decode(input)
		var malformed *domain.MalformedTokenError
		if !errors.As(err, &malformed) {
			t.Errorf("Decode(%q): expected MalformedTokenError, got %v", input, err)
			continue
		}
		if len(malformed.Reasons) != 1 || malformed.Reasons[0] != "Invalid QR format" {
			t.Errorf("Decode(%q): reasons %v", input, malformed.Reasons)
		}
	}
}

func TestDecodeAccumulatesFieldErrors(t *testing.T) {
	_, err := Decode(`{"ticket_id":"five","hash":"short"}`)
	var malformed *domain.MalformedTokenError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedTokenError, got %v", err)
	}
	want := []string{
		"Invalid type for ticket_id, expected int",
		"Missing field: order_item_id",
		"Invalid hash length (expected 64 chars)",
	}
	if len(malformed.Reasons) != len(want) {
		t.Fatalf("got reasons %v, want %v", malformed.Reasons, want)
	}
	for i, r := range want {
		if malformed.Reasons[i] != r {
			t.Errorf("reason[%d] = %q, want %q", i, malformed.Reasons[i], r)
		}
	}
}

func TestDecodeRejectsNonIntegerIDs(t *testing.T) {
	_, err := Decode(`{"ticket_id":5.5,"order_item_id":9,"hash":"` + fixtureHash + `"}`)
	var malformed *domain.MalformedTokenError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedTokenError, got %v", err)
	}
	if malformed.Reasons[0] != "Invalid type for ticket_id, expected int" {
		t.Errorf("got %v", malformed.Reasons)
	}
}

func TestDecodeNonHexNot64(t *testing.T) {
	// 64 chars but not hex: falls through the raw-hash shape and fails as
	// neither base64-JSON nor JSON.
	input := strings.Repeat("z", 64)
	if _, err := Decode(input); err == nil {
		t.Fatal("expected error for 64 non-hex chars")
	}
}

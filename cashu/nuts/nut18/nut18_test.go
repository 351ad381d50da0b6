package nut18

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := PaymentRequest{
		Id:     "abc123",
		Amount: 100,
		Unit:   "sat",
		Mints:  []string{"https://mint.example.com"},
		Transports: []Transport{
			{Type: "nostr", Target: "npub1...", Tags: [][]string{{"n", "17"}}},
		},
	}

	encoded, err := req.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded[:len(PaymentRequestPrefix)] != PaymentRequestPrefix {
		t.Fatalf("expected prefix %q, got %q", PaymentRequestPrefix, encoded)
	}

	decoded, err := DecodePaymentRequest(encoded)
	if err != nil {
		t.Fatalf("unexpected error decoding: %v", err)
	}

	if decoded.Id != req.Id || decoded.Amount != req.Amount || decoded.Unit != req.Unit {
		t.Errorf("decoded request does not match original: got %+v", decoded)
	}
	if len(decoded.Mints) != 1 || decoded.Mints[0] != req.Mints[0] {
		t.Errorf("expected mints to round-trip, got %+v", decoded.Mints)
	}
	if len(decoded.Transports) != 1 || decoded.Transports[0].Target != req.Transports[0].Target {
		t.Errorf("expected transports to round-trip, got %+v", decoded.Transports)
	}
}

func TestDecodePaymentRequestRejectsBadPrefix(t *testing.T) {
	if _, err := DecodePaymentRequest("notacreq"); err == nil {
		t.Error("expected error for invalid prefix")
	}
}

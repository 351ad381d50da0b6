// Package nut18 encodes and decodes Cashu payment requests: a receiver's
// out-of-band ask for a token, carrying amount, unit, and the transports
// it accepts the payment over. See
// https://github.com/cashubtc/nuts/blob/main/18.md
package nut18

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	PaymentRequestPrefix = "creq"
	PaymentRequestV1     = "A"
)

// PaymentRequest is a receiver's request for payment, optionally pinned to
// a specific mint and unit, and naming the transports it can be delivered
// over (e.g. Nostr, a direct HTTP POST).
type PaymentRequest struct {
	Id          string      `json:"i,omitempty" cbor:"i,omitempty"`
	Amount      uint64      `json:"a,omitempty" cbor:"a,omitempty"`
	Unit        string      `json:"u,omitempty" cbor:"u,omitempty"`
	SingleUse   bool        `json:"s,omitempty" cbor:"s,omitempty"`
	Mints       []string    `json:"m,omitempty" cbor:"m,omitempty"`
	Description string      `json:"d,omitempty" cbor:"d,omitempty"`
	Transports  []Transport `json:"t" cbor:"t"`
}

// Transport is one channel a PaymentRequest can be fulfilled over.
type Transport struct {
	Type  string     `json:"t" cbor:"t"`
	Target string    `json:"a" cbor:"a"`
	Tags   [][]string `json:"g,omitempty" cbor:"g,omitempty"`
}

// Encode serializes the request as "creq" + version + base64(cbor(p)).
func (p PaymentRequest) Encode() (string, error) {
	payload, err := cbor.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal: %v", err)
	}
	return PaymentRequestPrefix + PaymentRequestV1 + base64.URLEncoding.EncodeToString(payload), nil
}

// DecodePaymentRequest reverses Encode.
func DecodePaymentRequest(encoded string) (PaymentRequest, error) {
	prefixLen := len(PaymentRequestPrefix) + len(PaymentRequestV1)
	if len(encoded) <= prefixLen {
		return PaymentRequest{}, fmt.Errorf("payment request too short")
	}
	if encoded[:len(PaymentRequestPrefix)] != PaymentRequestPrefix {
		return PaymentRequest{}, fmt.Errorf("invalid payment request prefix")
	}

	payload, err := base64.URLEncoding.DecodeString(encoded[prefixLen:])
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("error decoding payment request: %v", err)
	}

	var req PaymentRequest
	if err := cbor.Unmarshal(payload, &req); err != nil {
		return PaymentRequest{}, fmt.Errorf("cbor.Unmarshal: %v", err)
	}
	return req, nil
}

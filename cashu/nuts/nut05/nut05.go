package nut05

import "github.com/gonuts-core/walletcore/cashu"

// QuoteState tracks a melt quote through its lifecycle. See
// https://github.com/cashubtc/nuts/blob/main/05.md#melting-tokens
type QuoteState string

const (
	MeltQuoteUnpaid  QuoteState = "UNPAID"
	MeltQuotePending QuoteState = "PENDING"
	MeltQuotePaid    QuoteState = "PAID"
)

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string     `json:"quote"`
	Amount     uint64     `json:"amount"`
	FeeReserve uint64     `json:"fee_reserve"`
	Paid       bool       `json:"paid"`
	State      QuoteState `json:"state"`
	Expiry     int64      `json:"expiry"`
	Preimage   string     `json:"payment_preimage,omitempty"`
}

// PostMeltBolt11Request carries the caller's spend proofs and, per NUT-08,
// blank outputs the mint may sign an overpaid Lightning fee reserve back
// onto.
type PostMeltBolt11Request struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltBolt11Response struct {
	Paid            bool                    `json:"paid"`
	Preimage        string                  `json:"payment_preimage"`
	State           QuoteState              `json:"state"`
	ChangeSignature cashu.BlindedSignatures `json:"change,omitempty"`
}

package nut04

import "github.com/gonuts-core/walletcore/cashu"

// QuoteState tracks a mint quote through its lifecycle. See
// https://github.com/cashubtc/nuts/blob/main/04.md#minting-tokens
type QuoteState string

const (
	MintQuoteUnpaid QuoteState = "UNPAID"
	MintQuotePaid   QuoteState = "PAID"
	MintQuoteIssued QuoteState = "ISSUED"
)

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	// Pubkey is an optional NUT-20 signing key the mint must verify a
	// signature against before issuing on this quote.
	Pubkey string `json:"pubkey,omitempty"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string     `json:"quote"`
	Request string     `json:"request"`
	Paid    bool       `json:"paid"`
	State   QuoteState `json:"state"`
	Expiry  int64      `json:"expiry"`
	Pubkey  string     `json:"pubkey,omitempty"`
}

type PostMintBolt11Request struct {
	Quote     string                `json:"quote"`
	Outputs   cashu.BlindedMessages `json:"outputs"`
	Signature string                `json:"signature,omitempty"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

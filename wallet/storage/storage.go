// Package storage defines the wallet's persistence contract: unspent and
// pending proofs, mint and melt quotes, and cached mint keysets, plus a
// bbolt-backed implementation.
package storage

import (
	"time"

	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut04"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut05"
	"github.com/gonuts-core/walletcore/crypto"
)

// DBProof is the on-disk representation of a proof. In the proofs bucket
// it is keyed by C, its identity per NUT-00 (two proofs with the same C
// are the same proof); Y (the hash-to-curve point of its secret, per
// NUT-07) is carried alongside only because checkstate and the pending
// bucket both need to look proofs up by it. MeltQuoteId is set while the
// proof is reserved as input to a pending melt, empty for a plain send
// reservation, and cleared once the reservation resolves. ReservedUntil
// (unix seconds, zero when unset) is when a pending reservation expires
// and becomes eligible to revive back to unspent.
type DBProof struct {
	Y             string           `json:"Y"`
	Amount        uint64           `json:"amount"`
	Id            string           `json:"id"`
	Secret        string           `json:"secret"`
	C             string           `json:"C"`
	DLEQ          *cashu.DLEQProof `json:"dleq,omitempty"`
	MeltQuoteId   string           `json:"melt_quote_id,omitempty"`
	State         cashu.ProofState `json:"state"`
	ReservedUntil int64            `json:"reserved_until,omitempty"`
}

func (p DBProof) toProof() cashu.Proof {
	return cashu.Proof{
		Amount: p.Amount,
		Id:     p.Id,
		Secret: p.Secret,
		C:      p.C,
		DLEQ:   p.DLEQ,
	}
}

// MintQuote tracks a NUT-04 mint quote the wallet requested, so it can be
// resumed and checked after the process restarts.
type MintQuote struct {
	QuoteId string         `json:"quote_id"`
	Mint    string         `json:"mint"`
	Method  string         `json:"method"`
	State   nut04.QuoteState `json:"state"`
	Amount  uint64         `json:"amount"`
	// PrivateKey is the NUT-20 signing key used to claim this quote, hex
	// encoded, empty when the mint does not require a signature.
	PrivateKey string `json:"private_key,omitempty"`
}

// MeltQuote tracks a NUT-05 melt quote the wallet requested.
type MeltQuote struct {
	QuoteId    string         `json:"quote_id"`
	Mint       string         `json:"mint"`
	Method     string         `json:"method"`
	State      nut05.QuoteState `json:"state"`
	Amount     uint64         `json:"amount"`
	FeeReserve uint64         `json:"fee_reserve"`
}

// DB is the storage contract the wallet core drives. Every operation that
// mutates proof or quote state must be durable before the wallet reports
// success to its caller.
type DB interface {
	SaveProofs(cashu.Proofs) error
	GetProofs() cashu.Proofs
	GetProofsByKeysetId(id string) cashu.Proofs
	DeleteProof(C string) error

	AddPendingProofs(proofs cashu.Proofs, timeout time.Duration) error
	AddPendingProofsByQuoteId(proofs cashu.Proofs, quoteId string, timeout time.Duration) error
	GetPendingProofs() []DBProof
	GetPendingProofsByQuoteId(quoteId string) []DBProof
	DeletePendingProofs(Ys []string) error
	DeletePendingProofsByQuoteId(quoteId string) error
	// UnreservePendingProofs moves proofs back from the pending bucket to
	// the unspent set, for the rollback branch of a reservation that
	// failed after reserving but before committing.
	UnreservePendingProofs(proofs cashu.Proofs) error
	// ReviveExpiredPendingProofs moves every pending proof whose
	// ReservedUntil has passed back to unspent, for the crash-recovery
	// path: a process that dies between reserving and committing leaves
	// proofs pending with no other way back to spendable.
	ReviveExpiredPendingProofs() (cashu.Proofs, error)

	SaveMintQuote(MintQuote) error
	GetMintQuoteById(id string) *MintQuote
	GetMintQuotes() []MintQuote

	SaveMeltQuote(MeltQuote) error
	GetMeltQuoteById(id string) *MeltQuote
	GetMeltQuotes() []MeltQuote

	SaveKeyset(*crypto.WalletKeyset) error
	GetKeysets() crypto.KeysetsMap
	IncrementKeysetCounter(keysetId string, n uint32) error

	SaveMnemonicSeed(mnemonic string, seed []byte) error
	GetMnemonic() (mnemonic string, seed []byte)

	Close() error
}

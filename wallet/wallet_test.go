package wallet

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut01"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut02"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut03"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut04"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut05"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut06"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/wallet/errs"
)

// mockMint serves just enough of the NUT-01..NUT-05 HTTP surface for the
// wallet to add a mint, mint/receive tokens and melt, signing every blinded
// message it's handed with a single fixed keypair.
type mockMint struct {
	server  *httptest.Server
	key     *secp256k1.PrivateKey
	keys    nut01.KeysMap
	keyset  nut02.Keyset
	quoteId string

	// meltQuoteId, meltAmount, meltFeeReserve and meltFeeSats configure
	// handleMeltQuote/handleMelt for tests that exercise Melt; zero-value
	// fields mean the test doesn't call Melt.
	meltQuoteId    string
	meltAmount     uint64
	meltFeeReserve uint64
	meltFeeSats    uint64
	meltShouldFail bool
}

func newMockMint(t *testing.T) *mockMint {
	return newMockMintWithFee(t, 0)
}

// newMockMintWithFee is newMockMint but the keyset it advertises charges
// inputFeePpk per input, per NUT-02.
func newMockMintWithFee(t *testing.T, inputFeePpk uint) *mockMint {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	pubHex := hex.EncodeToString(key.PubKey().SerializeCompressed())
	keys := nut01.KeysMap{}
	for amt := uint64(1); amt <= 1<<20; amt <<= 1 {
		keys[amt] = pubHex
	}

	pubkeys, err := crypto.MapPubKeys(keys)
	if err != nil {
		t.Fatal(err)
	}
	id := crypto.DeriveKeysetId(pubkeys)

	m := &mockMint{
		key:         key,
		keys:        keys,
		keyset:      nut02.Keyset{Id: id, Unit: "sat", Active: true, InputFeePpk: inputFeePpk},
		quoteId:     "mock-quote-1",
		meltQuoteId: "mock-melt-quote-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/info", m.handleInfo)
	mux.HandleFunc("/v1/keys", m.handleKeys)
	mux.HandleFunc("/v1/keysets", m.handleKeysets)
	mux.HandleFunc("/v1/mint/quote/bolt11", m.handleMintQuote)
	mux.HandleFunc("/v1/mint/bolt11", m.handleMint)
	mux.HandleFunc("/v1/swap", m.handleSwap)
	mux.HandleFunc("/v1/melt/quote/bolt11", m.handleMeltQuote)
	mux.HandleFunc("/v1/melt/bolt11", m.handleMelt)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockMint) handleInfo(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(nut06.MintInfo{Name: "mock", Version: "0.0.0"})
}

func (m *mockMint) handleKeys(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{{Id: m.keyset.Id, Unit: "sat", Keys: m.keys}},
	})
}

func (m *mockMint) handleKeysets(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(nut02.GetKeysetsResponse{Keysets: []nut02.Keyset{m.keyset}})
}

func (m *mockMint) handleMintQuote(w http.ResponseWriter, r *http.Request) {
	var req nut04.PostMintQuoteBolt11Request
	json.NewDecoder(r.Body).Decode(&req)
	json.NewEncoder(w).Encode(nut04.PostMintQuoteBolt11Response{
		Quote: m.quoteId, Request: "lnbc1mock", State: nut04.MintQuotePaid,
	})
}

func (m *mockMint) handleMint(w http.ResponseWriter, r *http.Request) {
	var req nut04.PostMintBolt11Request
	json.NewDecoder(r.Body).Decode(&req)
	json.NewEncoder(w).Encode(nut04.PostMintBolt11Response{Signatures: m.sign(req.Outputs)})
}

func (m *mockMint) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req nut03.PostSwapRequest
	json.NewDecoder(r.Body).Decode(&req)
	json.NewEncoder(w).Encode(nut03.PostSwapResponse{Signatures: m.sign(req.Outputs)})
}

func (m *mockMint) handleMeltQuote(w http.ResponseWriter, r *http.Request) {
	var req nut05.PostMeltQuoteBolt11Request
	json.NewDecoder(r.Body).Decode(&req)
	json.NewEncoder(w).Encode(nut05.PostMeltQuoteBolt11Response{
		Quote:      m.meltQuoteId,
		Amount:     m.meltAmount,
		FeeReserve: m.meltFeeReserve,
		State:      nut05.MeltQuoteUnpaid,
	})
}

// handleMelt settles the invoice for meltAmount out of the submitted
// inputs, keeping meltFeeSats as its routing fee, and returns signatures
// for whatever blank outputs it can cover out of the remainder, largest
// denomination first, leaving any it can't cover unsigned (NUT-08).
func (m *mockMint) handleMelt(w http.ResponseWriter, r *http.Request) {
	if m.meltShouldFail {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("mock melt failure"))
		return
	}

	var req nut05.PostMeltBolt11Request
	json.NewDecoder(r.Body).Decode(&req)

	var inputTotal uint64
	for _, p := range req.Inputs {
		inputTotal += p.Amount
	}
	remaining := inputTotal - m.meltAmount - m.meltFeeSats

	outputs := append(cashu.BlindedMessages{}, req.Outputs...)
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Amount > outputs[j].Amount })

	var changeOutputs cashu.BlindedMessages
	for _, out := range outputs {
		if out.Amount <= remaining {
			changeOutputs = append(changeOutputs, out)
			remaining -= out.Amount
		}
	}

	json.NewEncoder(w).Encode(nut05.PostMeltBolt11Response{
		Paid:            true,
		State:           nut05.MeltQuotePaid,
		Preimage:        "mock-preimage",
		ChangeSignature: m.sign(changeOutputs),
	})
}

func (m *mockMint) sign(messages cashu.BlindedMessages) cashu.BlindedSignatures {
	sigs := make(cashu.BlindedSignatures, len(messages))
	for i, msg := range messages {
		B_bytes, _ := hex.DecodeString(msg.B_)
		B_, _ := secp256k1.ParsePubKey(B_bytes)
		C_ := crypto.SignBlindedMessage(B_, m.key)
		sigs[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			Id:     m.keyset.Id,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
		}
	}
	return sigs
}

func newTestWallet(t *testing.T, mintURL string) *Wallet {
	t.Helper()
	w, err := LoadWallet(Config{WalletPath: t.TempDir(), CurrentMintURL: mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	return w
}

func TestLoadWalletGeneratesMnemonic(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	if w.Mnemonic() == "" {
		t.Fatal("expected a mnemonic to be generated")
	}
	if w.GetBalance() != 0 {
		t.Fatalf("expected zero balance for a fresh wallet, got %v", w.GetBalance())
	}
}

func TestMintTokensCreditsBalance(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 64)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}

	proofs, err := w.MintTokens(quote.QuoteId)
	if err != nil {
		t.Fatalf("MintTokens: %v", err)
	}
	if proofs.Amount() != 64 {
		t.Fatalf("expected 64 minted, got %v", proofs.Amount())
	}
	if w.GetBalance() != 64 {
		t.Fatalf("expected balance of 64, got %v", w.GetBalance())
	}
	if w.GetBalanceByMint(mint.server.URL) != 64 {
		t.Fatalf("expected mint balance of 64, got %v", w.GetBalanceByMint(mint.server.URL))
	}
}

func TestSendExactAmountNoSwap(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	token, err := w.Send(mint.server.URL, 8)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token.Amount() != 8 {
		t.Fatalf("expected token amount 8, got %v", token.Amount())
	}
	if w.GetBalance() != 0 {
		t.Fatalf("expected balance to be fully spent, got %v", w.GetBalance())
	}
}

// TestConcurrentSendReservationIsolation exercises P7: two sends racing for
// the wallet's single 64-denomination proof either both succeed against
// disjoint proofs or exactly one fails with ErrInsufficientFunds, never a
// double-spend of the same proof.
func TestConcurrentSendReservationIsolation(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := w.Send(mint.server.URL, 64)
			results <- err
		}()
	}

	successes, insufficientFunds := 0, 0
	for i := 0; i < 2; i++ {
		switch err := <-results; err {
		case nil:
			successes++
		case errs.ErrInsufficientFunds:
			insufficientFunds++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 || insufficientFunds != 1 {
		t.Fatalf("expected exactly one success and one ErrInsufficientFunds, got %v successes and %v insufficient-funds", successes, insufficientFunds)
	}
	if w.GetBalance() != 0 {
		t.Fatalf("expected the single proof to be fully spent exactly once, got balance %v", w.GetBalance())
	}
}

func TestSendRequiresSwapForOddAmount(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 16)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	token, err := w.Send(mint.server.URL, 5)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token.Amount() != 5 {
		t.Fatalf("expected token amount 5, got %v", token.Amount())
	}
	if w.GetBalance() != 11 {
		t.Fatalf("expected 11 left as change, got %v", w.GetBalance())
	}
}

func TestSendInsufficientFunds(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	if _, err := w.Send(mint.server.URL, 100); err != errs.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestReceiveToken(t *testing.T) {
	mint := newMockMint(t)
	sender := newTestWallet(t, mint.server.URL)
	receiver := newTestWallet(t, mint.server.URL)

	quote, err := sender.RequestMint(mint.server.URL, 32)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sender.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	token, err := sender.Send(mint.server.URL, 32)
	if err != nil {
		t.Fatal(err)
	}

	received, err := receiver.Receive(token)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received != 32 {
		t.Fatalf("expected to receive 32, got %v", received)
	}
	if receiver.GetBalance() != 32 {
		t.Fatalf("expected receiver balance 32, got %v", receiver.GetBalance())
	}
}

func TestMintQuoteStateNotFound(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	if _, err := w.MintQuoteState("does-not-exist"); err != errs.ErrQuoteNotFound {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}
}

// TestSendWithInputFee exercises P2 conservation when the mint charges a
// non-zero input_fee_ppk: the fee the mint deducts per spent input must
// come out of the change, not be dropped or double counted.
func TestSendWithInputFee(t *testing.T) {
	mint := newMockMintWithFee(t, 1000) // 1000 ppk = 1 sat per input
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 16)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	token, err := w.Send(mint.server.URL, 8)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token.Amount() != 8 {
		t.Fatalf("expected token amount 8, got %v", token.Amount())
	}

	// one proof of 16 spent as input, fee = ceil(1*1000/1000) = 1, so
	// 16 - 8 - 1 = 7 comes back as change.
	if w.GetBalance() != 7 {
		t.Fatalf("expected 7 left as change after a 1 sat input fee, got %v", w.GetBalance())
	}
}

// TestMeltWithFeeReserveChange exercises a melt where the mint's actual
// routing fee comes in under the surplus the wallet's inputs carry over the
// invoice amount and returns the difference as NUT-08 change, signing only
// a subset of the blank outputs
// the wallet blinded for the full reserved surplus.
func TestMeltWithFeeReserveChange(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	mint.meltAmount = 40
	mint.meltFeeReserve = 5
	mint.meltFeeSats = 8

	meltQuote, err := w.RequestMeltQuote(mint.server.URL, "lnbcmockinvoice")
	if err != nil {
		t.Fatalf("RequestMeltQuote: %v", err)
	}

	result, err := w.Melt(meltQuote.QuoteId)
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if !result.Paid {
		t.Fatal("expected melt to report paid")
	}

	// reserved 64 (the only proof available) against amount 40 + fee_reserve
	// 5 + safety buffer 3 = 48, blinded change for the full surplus 24, and
	// the mint kept 8 of it as its actual fee: 64 - 16 - 40 = 8.
	if result.Change.Amount() != 16 {
		t.Fatalf("expected 16 sat of fee-reserve change, got %v", result.Change.Amount())
	}
	if w.GetBalance() != 16 {
		t.Fatalf("expected wallet balance of 16 after melt, got %v", w.GetBalance())
	}
}

// TestMeltFailureUnreservesProofs ensures a failed melt POST restores its
// reserved inputs to the unspent set rather than stranding them pending.
func TestMeltFailureUnreservesProofs(t *testing.T) {
	mint := newMockMint(t)
	w := newTestWallet(t, mint.server.URL)

	quote, err := w.RequestMint(mint.server.URL, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.MintTokens(quote.QuoteId); err != nil {
		t.Fatal(err)
	}

	mint.meltAmount = 40
	mint.meltFeeReserve = 5
	mint.meltShouldFail = true

	meltQuote, err := w.RequestMeltQuote(mint.server.URL, "lnbcmockinvoice")
	if err != nil {
		t.Fatalf("RequestMeltQuote: %v", err)
	}

	if _, err := w.Melt(meltQuote.QuoteId); err == nil {
		t.Fatal("expected Melt to fail")
	}

	if w.GetBalance() != 64 {
		t.Fatalf("expected the reserved proof to be restored to the unspent set, got balance %v", w.GetBalance())
	}
}

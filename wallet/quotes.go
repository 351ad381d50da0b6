package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gonuts-core/walletcore/blind"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut04"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut05"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut09"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/wallet/client"
	"github.com/gonuts-core/walletcore/wallet/errs"
	"github.com/gonuts-core/walletcore/wallet/events"
	"github.com/gonuts-core/walletcore/wallet/storage"
)

// RequestMint asks mintURL for a bolt11 invoice to mint amount, persisting
// the resulting quote so it can be resumed across restarts.
func (w *Wallet) RequestMint(mintURL string, amount uint64) (*storage.MintQuote, error) {
	response, err := client.PostMintQuoteBolt11(mintURL, nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   w.unit.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("error requesting mint quote: %v", err)
	}

	quote := storage.MintQuote{
		QuoteId: response.Quote,
		Mint:    mintURL,
		Method:  cashu.BOLT11_METHOD,
		State:   response.State,
		Amount:  amount,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}
	w.events.Publish(events.Event{Kind: events.MintQuoteSeen, Payload: quote})

	return &quote, nil
}

// MintQuoteState refreshes and persists the state of a previously requested mint quote.
func (w *Wallet) MintQuoteState(quoteId string) (*storage.MintQuote, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, errs.ErrQuoteNotFound
	}

	response, err := client.GetMintQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, fmt.Errorf("error checking mint quote state: %v", err)
	}

	quote.State = response.State
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// mintQuotePollInterval is how often PollMintQuote re-checks a quote's
// state while waiting for it to be paid.
const mintQuotePollInterval = 2 * time.Second

// mintQuotePollTimeout is PollMintQuote's deadline when ctx carries none of
// its own.
const mintQuotePollTimeout = 120 * time.Second

// PollMintQuote blocks, re-checking quoteId's state every
// mintQuotePollInterval, until the mint reports it paid or ctx is done. If
// ctx carries no deadline, one of mintQuotePollTimeout is applied.
func (w *Wallet) PollMintQuote(ctx context.Context, quoteId string) (*storage.MintQuote, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mintQuotePollTimeout)
		defer cancel()
	}

	quote, err := w.MintQuoteState(quoteId)
	if err != nil {
		return nil, err
	}
	if quote.State == nut04.MintQuotePaid {
		return quote, nil
	}

	ticker := time.NewTicker(mintQuotePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			quote, err := w.MintQuoteState(quoteId)
			if err != nil {
				return nil, err
			}
			if quote.State == nut04.MintQuotePaid {
				return quote, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("wallet: timed out waiting for mint quote '%v' to be paid: %w", quoteId, ctx.Err())
		}
	}
}

// MintTokens redeems a paid mint quote for proofs.
func (w *Wallet) MintTokens(quoteId string) (cashu.Proofs, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, errs.ErrQuoteNotFound
	}
	if quote.State != nut04.MintQuotePaid {
		refreshed, err := w.MintQuoteState(quoteId)
		if err != nil {
			return nil, err
		}
		quote = refreshed
	}
	if quote.State != nut04.MintQuotePaid {
		return nil, fmt.Errorf("wallet: mint quote '%v' is not paid yet", quoteId)
	}

	keyset, err := w.getActiveSatKeyset(quote.Mint)
	if err != nil {
		return nil, err
	}

	out, err := blind.Split(quote.Amount, keyset.Id, w.domainSeparation)
	if err != nil {
		return nil, err
	}

	response, err := client.PostMintBolt11(quote.Mint, nut04.PostMintBolt11Request{
		Quote:   quoteId,
		Outputs: out.Messages,
	})

	var signatures cashu.BlindedSignatures
	if err != nil {
		var cashuErr cashu.Error
		if !errors.As(err, &cashuErr) || cashuErr.Code != cashu.BlindedMessageAlreadySignedErrCode {
			return nil, fmt.Errorf("error minting tokens: %v", err)
		}

		// The mint has already signed these exact blinded messages for a
		// prior attempt at this quote that we never got a response for.
		// Recover the signatures it issued then instead of re-minting.
		recoveredOut, recoveredSigs, rerr := w.recoverZombieSignatures(quote.Mint, out)
		if rerr != nil {
			return nil, fmt.Errorf("error recovering signatures for already-issued quote: %v", rerr)
		}
		out = recoveredOut
		signatures = recoveredSigs
	} else {
		signatures = response.Signatures
	}

	proofs, err := w.unblindAndStore(signatures, out, *keyset)
	if err != nil {
		return nil, err
	}

	quote.State = nut04.MintQuoteIssued
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, err
	}

	return proofs, nil
}

// RequestMeltQuote asks mintURL how much it will charge (amount + Lightning
// fee reserve) to pay invoice on the wallet's behalf.
func (w *Wallet) RequestMeltQuote(mintURL, invoice string) (*storage.MeltQuote, error) {
	response, err := client.PostMeltQuoteBolt11(mintURL, nut05.PostMeltQuoteBolt11Request{
		Request: invoice,
		Unit:    w.unit.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("error requesting melt quote: %v", err)
	}

	quote := storage.MeltQuote{
		QuoteId:    response.Quote,
		Mint:       mintURL,
		Method:     cashu.BOLT11_METHOD,
		State:      response.State,
		Amount:     response.Amount,
		FeeReserve: response.FeeReserve,
	}
	if err := w.db.SaveMeltQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving melt quote: %v", err)
	}
	w.events.Publish(events.Event{Kind: events.MeltQuoteSeen, Payload: quote})

	return &quote, nil
}

// meltSafetyBuffer pads a melt's proof reservation above amount+fee_reserve
// to tolerate the mint's actual routing fee landing slightly over its own
// estimate, so the melt doesn't fail InsufficientFunds on a reservation
// that would otherwise cover the quote exactly.
const meltSafetyBuffer = 3

// Melt pays a previously requested melt quote, reserving the proofs it
// spends as pending until the mint confirms payment, and returns any
// NUT-08 fee-reserve change.
func (w *Wallet) Melt(quoteId string) (*nut05PaymentResult, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, errs.ErrQuoteNotFound
	}

	amountNeeded := quote.Amount + quote.FeeReserve + meltSafetyBuffer
	selected, selectedAmount, keyset, err := w.reserveProofs(quote.Mint, amountNeeded, quoteId)
	if err != nil {
		return nil, err
	}

	// Blind change for the full surplus the reservation came up with over
	// the invoice amount, not just fee_reserve: the mint's actual routing
	// fee isn't known until it settles payment, so the change batch has to
	// cover whatever it doesn't end up needing, and it returns signatures
	// only for that unused portion (NUT-08).
	changeAmount := selectedAmount - quote.Amount
	changeOut, err := blind.Split(changeAmount, keyset.Id, w.domainSeparation)
	if err != nil {
		return nil, err
	}

	response, err := client.PostMeltBolt11(quote.Mint, nut05.PostMeltBolt11Request{
		Quote:   quoteId,
		Inputs:  selected,
		Outputs: changeOut.Messages,
	})
	if err != nil {
		if rerr := w.unreserveProofs(selected); rerr != nil {
			return nil, fmt.Errorf("error melting proofs: %v (additionally failed to restore reserved proofs: %v)", err, rerr)
		}
		return nil, fmt.Errorf("error melting proofs: %v", err)
	}

	result := &nut05PaymentResult{Paid: response.State == nut05.MeltQuotePaid, Preimage: response.Preimage}

	if result.Paid {
		w.db.DeletePendingProofsByQuoteId(quoteId)

		if len(response.ChangeSignature) > 0 {
			change, err := w.unblindAndStore(response.ChangeSignature, changeOut, *keyset)
			if err != nil {
				return nil, err
			}
			result.Change = change
		}

		quote.State = nut05.MeltQuotePaid
	} else {
		quote.State = nut05.MeltQuotePending
	}
	if err := w.db.SaveMeltQuote(*quote); err != nil {
		return nil, err
	}

	return result, nil
}

// recoverZombieSignatures re-requests the signatures a mint already issued
// for out's blinded messages via the restore endpoint, for the code-10002
// "outputs already signed" recovery path: a mint response to mint/melt can
// be lost in transit even though the mint committed, and resubmitting the
// same blinded messages would otherwise be rejected as a replay.
func (w *Wallet) recoverZombieSignatures(mintURL string, out blind.Outputs) (blind.Outputs, cashu.BlindedSignatures, error) {
	restoreResponse, err := client.PostRestore(mintURL, nut09.PostRestoreRequest{Outputs: out.Messages})
	if err != nil {
		return blind.Outputs{}, nil, err
	}

	matchedOut, signatures := matchRestoredOutputs(out, restoreResponse)
	if len(signatures) == 0 {
		return blind.Outputs{}, nil, errors.New("mint has no record of previously issued signatures")
	}
	return matchedOut, signatures, nil
}

type nut05PaymentResult struct {
	Paid     bool
	Preimage string
	Change   cashu.Proofs
}

// unblindAndStore unblinds signatures against out and persists the
// resulting proofs, publishing an event for observers.
func (w *Wallet) unblindAndStore(signatures cashu.BlindedSignatures, out blind.Outputs, keyset crypto.WalletKeyset) (cashu.Proofs, error) {
	proofs, err := blind.Unblind(signatures, out, keyset)
	if err != nil {
		return nil, fmt.Errorf("error unblinding signatures: %v", err)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error saving proofs: %v", err)
	}
	w.events.Publish(events.Event{Kind: events.ProofsPending, Payload: proofs})
	return proofs, nil
}

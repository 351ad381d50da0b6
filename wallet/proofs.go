package wallet

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/gonuts-core/walletcore/blind"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut03"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut07"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/wallet/client"
	"github.com/gonuts-core/walletcore/wallet/errs"
)

// reservationTimeout is how long reserveProofs holds proofs pending
// before they're eligible to be revived back to spendable, covering a
// crash between reservation and either commit or explicit unreserve.
const reservationTimeout = 10 * time.Minute

// selectProofsForSend reserves proofs from mintURL summing to at least
// amount plus the mint's input fee for however many it takes, preferring
// proofs from inactive keysets first so they get cycled out, then swaps
// with the mint for exact send and change denominations.
func (w *Wallet) selectProofsForSend(mintURL string, amount uint64) (cashu.Proofs, error) {
	selected, selectedAmount, keyset, err := w.reserveProofs(mintURL, amount, "")
	if err != nil {
		return nil, err
	}

	// proofs already sum exactly to the requested amount: no swap needed,
	// the reservation above already committed them to this send.
	if selectedAmount == amount {
		if err := w.finalizeSpentProofs(selected); err != nil {
			return nil, err
		}
		return selected, nil
	}

	sendProofs, err := w.swapForSend(mintURL, selected, selectedAmount, amount, *keyset,
		func(keysetId string) (blind.Outputs, error) {
			return blind.Split(amount, keysetId, w.domainSeparation)
		})
	if err != nil {
		if rerr := w.unreserveProofs(selected); rerr != nil {
			return nil, fmt.Errorf("%v (additionally failed to restore reserved proofs: %v)", err, rerr)
		}
		return nil, err
	}
	return sendProofs, nil
}

// selectProofsForLockedSend is selectProofsForSend, but the send output is
// locked to recipientPubkey (NUT-10/11 P2PK) rather than holding an
// ordinary secret, so it always swaps even when the selected proofs
// already sum exactly to amount.
func (w *Wallet) selectProofsForLockedSend(mintURL string, amount uint64, recipientPubkey string) (cashu.Proofs, error) {
	selected, selectedAmount, keyset, err := w.reserveProofs(mintURL, amount, "")
	if err != nil {
		return nil, err
	}

	sendProofs, err := w.swapForSend(mintURL, selected, selectedAmount, amount, *keyset,
		func(keysetId string) (blind.Outputs, error) {
			return blind.SplitLocked(amount, keysetId, w.domainSeparation, recipientPubkey)
		})
	if err != nil {
		if rerr := w.unreserveProofs(selected); rerr != nil {
			return nil, fmt.Errorf("%v (additionally failed to restore reserved proofs: %v)", err, rerr)
		}
		return nil, err
	}
	return sendProofs, nil
}

// reserveProofs greedily selects proofs from mintURL, largest amount
// first within each bucket, preferring proofs from inactive keysets so
// they get cycled out of circulation, until the total covers amount plus
// the input fee the mint will charge for however many proofs that takes.
// Selected proofs are moved into the pending bucket, tagged with quoteId
// (empty for a plain send reservation, a melt quote id otherwise) and a
// reservation deadline, before returning: a second reservation racing
// against this one under w.mu either sees the reduced unspent set or runs
// after this one commits or rolls back, never a half-selected view of it
// (P7).
func (w *Wallet) reserveProofs(mintURL string, amount uint64, quoteId string) (cashu.Proofs, uint64, *crypto.WalletKeyset, error) {
	// Resolved before locking: it may hit the network to refresh a rotated
	// keyset, and w.mu must never be held across a suspension point.
	keyset, err := w.getActiveSatKeyset(mintURL)
	if err != nil {
		return nil, 0, nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.db.ReviveExpiredPendingProofs(); err != nil {
		return nil, 0, nil, fmt.Errorf("error reviving expired reservations: %v", err)
	}

	conn, ok := w.mints[mintURL]
	if !ok {
		return nil, 0, nil, errs.ErrMintNotFound
	}

	keysetIds := map[string]bool{conn.activeKeyset.Id: true}
	for id := range conn.inactiveKeysets {
		keysetIds[id] = true
	}

	var balance uint64
	allProofs := w.db.GetProofs()
	inactive := cashu.Proofs{}
	active := cashu.Proofs{}
	for _, proof := range allProofs {
		if !keysetIds[proof.Id] {
			continue
		}
		balance += proof.Amount
		if _, isInactive := conn.inactiveKeysets[proof.Id]; isInactive {
			inactive = append(inactive, proof)
		} else {
			active = append(active, proof)
		}
	}
	// Necessary but not sufficient: the real gate is the fee-aware check
	// after selection below, since the fee grows with however many
	// proofs selection actually needs.
	if balance < amount {
		return nil, 0, nil, errs.ErrInsufficientFunds
	}

	sortByAmountDescending(inactive)
	sortByAmountDescending(active)

	selected := cashu.Proofs{}
	var selectedAmount uint64
	for _, bucket := range [][]cashu.Proof{inactive, active} {
		for _, proof := range bucket {
			if selectedAmount >= amount+w.inputFee(selected, *keyset) {
				break
			}
			selected = append(selected, proof)
			selectedAmount += proof.Amount
		}
	}

	fee := w.inputFee(selected, *keyset)
	if selectedAmount < amount+fee {
		return nil, 0, nil, errs.ErrInsufficientFunds
	}

	if quoteId == "" {
		if err := w.db.AddPendingProofs(selected, reservationTimeout); err != nil {
			return nil, 0, nil, err
		}
	} else {
		if err := w.db.AddPendingProofsByQuoteId(selected, quoteId, reservationTimeout); err != nil {
			return nil, 0, nil, err
		}
	}

	return selected, selectedAmount, keyset, nil
}

func sortByAmountDescending(proofs cashu.Proofs) {
	sort.Slice(proofs, func(i, j int) bool {
		return proofs[i].Amount > proofs[j].Amount
	})
}

// unreserveProofs restores proofs a reservation removed from the unspent
// set back to it, for the rollback branch of a send that failed after
// reserving.
func (w *Wallet) unreserveProofs(proofs cashu.Proofs) error {
	return w.db.UnreservePendingProofs(proofs)
}

// finalizeSpentProofs drops proofs from the pending bucket for good,
// once whatever reserved them (a completed swap or melt) has committed.
func (w *Wallet) finalizeSpentProofs(proofs cashu.Proofs) error {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurveSafe([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	return w.db.DeletePendingProofs(Ys)
}

// swapForSend swaps selected (summing to selectedAmount, already reserved
// by reserveProofs) for a send batch of amount built by buildSendOut plus
// an ordinary change batch for the surplus net of the mint's input fee
// on selected, and returns the unblinded send proofs after saving change
// and finalizing selected as spent.
func (w *Wallet) swapForSend(
	mintURL string,
	selected cashu.Proofs,
	selectedAmount, amount uint64,
	keyset crypto.WalletKeyset,
	buildSendOut func(keysetId string) (blind.Outputs, error),
) (cashu.Proofs, error) {
	fee := w.inputFee(selected, keyset)
	if selectedAmount < amount+fee {
		return nil, errs.ErrInsufficientFunds
	}
	changeAmount := selectedAmount - amount - fee

	sendOut, err := buildSendOut(keyset.Id)
	if err != nil {
		return nil, err
	}
	changeOut, err := blind.Split(changeAmount, keyset.Id, w.domainSeparation)
	if err != nil {
		return nil, err
	}

	combinedOutputs := make(cashu.BlindedMessages, 0, len(sendOut.Messages)+len(changeOut.Messages))
	combinedOutputs = append(combinedOutputs, sendOut.Messages...)
	combinedOutputs = append(combinedOutputs, changeOut.Messages...)
	swapRequest := nut03.PostSwapRequest{Inputs: selected, Outputs: combinedOutputs}

	swapResponse, err := client.PostSwap(mintURL, swapRequest)
	if err != nil {
		return nil, fmt.Errorf("error swapping proofs with mint: %v", err)
	}

	sigsByAmount := make(map[uint64][]cashu.BlindedSignature)
	for _, sig := range swapResponse.Signatures {
		sigsByAmount[sig.Amount] = append(sigsByAmount[sig.Amount], sig)
	}

	sendSigs, err := takeSignatures(sigsByAmount, sendOut.Messages)
	if err != nil {
		return nil, err
	}
	changeSigs, err := takeSignatures(sigsByAmount, changeOut.Messages)
	if err != nil {
		return nil, err
	}

	sendProofs, err := blind.Unblind(sendSigs, sendOut, keyset)
	if err != nil {
		return nil, err
	}
	changeProofs, err := blind.Unblind(changeSigs, changeOut, keyset)
	if err != nil {
		return nil, err
	}

	if err := w.db.SaveProofs(changeProofs); err != nil {
		return nil, fmt.Errorf("error saving change proofs: %v", err)
	}
	if err := w.finalizeSpentProofs(selected); err != nil {
		return nil, fmt.Errorf("error finalizing spent proofs: %v", err)
	}

	return sendProofs, nil
}

// takeSignatures consumes one signature per message amount from byAmount,
// in message order, since the mint's response isn't guaranteed to preserve
// request order across the combined send+change output list.
func takeSignatures(byAmount map[uint64][]cashu.BlindedSignature, messages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	sigs := make(cashu.BlindedSignatures, len(messages))
	for i, msg := range messages {
		pending := byAmount[msg.Amount]
		if len(pending) == 0 {
			return nil, fmt.Errorf("wallet: mint did not return a signature for amount %v", msg.Amount)
		}
		sigs[i] = pending[0]
		byAmount[msg.Amount] = pending[1:]
	}
	return sigs, nil
}

// CheckProofStates queries NUT-07 checkstate for proofs and removes any
// the mint reports as already spent.
func (w *Wallet) CheckProofStates(mintURL string, proofs cashu.Proofs) ([]nut07.ProofState, error) {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurveSafe([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	response, err := client.PostCheckProofState(mintURL, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, fmt.Errorf("error checking proof state: %v", err)
	}

	for i, state := range response.States {
		if state.State == nut07.Spent {
			w.db.DeleteProof(proofs[i].C)
		}
	}

	return response.States, nil
}

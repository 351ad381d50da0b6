package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gonuts-core/walletcore/blind"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut07"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut09"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut13"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/hdkeys"
	"github.com/gonuts-core/walletcore/wallet/client"
	"github.com/gonuts-core/walletcore/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

// restoreBatchSize is how many blinded messages are probed against a
// keyset's restore endpoint per round trip.
const restoreBatchSize = 20

// restoreSafetyCap aborts a keyset's scan once the counter reaches this
// index, even if the gap limit hasn't been hit, so a corrupted mint
// response can't spin the scan forever.
const restoreSafetyCap = 100

// Restore rebuilds a wallet from mnemonic alone, by replaying NUT-13's
// deterministic derivation against every keyset of each mint in
// mintsToRestore and asking the mint which of the resulting blinded
// messages it has a signature for. walletPath must not already contain
// a wallet: restore only ever runs against a fresh database.
func Restore(walletPath, mnemonic string, mintsToRestore []string) (cashu.Proofs, error) {
	dbpath := filepath.Join(walletPath, "wallet.db")
	if _, err := os.Stat(dbpath); err == nil {
		return nil, errors.New("wallet already exists")
	}

	if err := os.MkdirAll(walletPath, 0700); err != nil {
		return nil, err
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	db, err := storage.InitBolt(walletPath)
	if err != nil {
		return nil, fmt.Errorf("error restoring wallet: %v", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeys.NewMasterNode(seed)
	if err != nil {
		return nil, err
	}
	if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
		return nil, fmt.Errorf("error saving wallet seed: %v", err)
	}

	proofsRestored := cashu.Proofs{}

	for _, mint := range mintsToRestore {
		restored, err := restoreMint(db, master, mint)
		if err != nil {
			return nil, err
		}
		proofsRestored = append(proofsRestored, restored...)
	}

	return proofsRestored, nil
}

func restoreMint(db storage.DB, master hdkeys.Node, mint string) (cashu.Proofs, error) {
	mintInfo, err := client.GetMintInfo(mint)
	if err != nil {
		return nil, fmt.Errorf("error getting info from mint: %v", err)
	}
	if !mintInfo.Nuts.Nut07.Supported || !mintInfo.Nuts.Nut09.Supported {
		return nil, nil
	}

	keysetsResponse, err := client.GetAllKeysets(mint)
	if err != nil {
		return nil, err
	}

	restored := cashu.Proofs{}

	for _, keyset := range keysetsResponse.Keysets {
		if keyset.Unit != cashu.Sat.String() {
			continue
		}
		if _, err := hex.DecodeString(keyset.Id); err != nil {
			continue
		}

		keysetKeys, err := getKeysetKeys(mint, keyset.Id)
		if err != nil {
			return nil, err
		}

		walletKeyset := crypto.WalletKeyset{
			Id:          keyset.Id,
			MintURL:     mint,
			Unit:        keyset.Unit,
			Active:      keyset.Active,
			PublicKeys:  keysetKeys,
			InputFeePpk: keyset.InputFeePpk,
		}
		if err := db.SaveKeyset(&walletKeyset); err != nil {
			return nil, err
		}

		keysetProofs, err := restoreKeyset(db, master, walletKeyset)
		if err != nil {
			return nil, err
		}
		restored = append(restored, keysetProofs...)
	}

	return restored, nil
}

// restoreKeyset probes walletKeyset's restore endpoint in batches of
// restoreBatchSize, advancing the NUT-13 counter, until three consecutive
// batches come back with no signatures at all or the counter reaches
// restoreSafetyCap.
func restoreKeyset(db storage.DB, master hdkeys.Node, walletKeyset crypto.WalletKeyset) (cashu.Proofs, error) {
	restored := cashu.Proofs{}
	var counter uint32

	emptyBatches := 0
	for emptyBatches < 3 && counter < restoreSafetyCap {
		out, err := deterministicProbeBatch(master, walletKeyset.Id, counter, restoreBatchSize)
		if err != nil {
			return nil, err
		}

		restoreResponse, err := client.PostRestore(walletKeyset.MintURL, nut09.PostRestoreRequest{Outputs: out.Messages})
		if err != nil {
			return nil, fmt.Errorf("error restoring signatures from mint '%v': %v", walletKeyset.MintURL, err)
		}
		counter += restoreBatchSize

		if len(restoreResponse.Signatures) == 0 {
			emptyBatches++
			continue
		}
		emptyBatches = 0

		matchedOutputs, matchedSignatures := matchRestoredOutputs(out, restoreResponse)

		proofs, err := blind.Unblind(matchedSignatures, matchedOutputs, walletKeyset)
		if err != nil {
			return nil, err
		}

		unspent, err := unspentProofs(walletKeyset.MintURL, proofs)
		if err != nil {
			return nil, err
		}

		if err := db.SaveProofs(unspent); err != nil {
			return nil, fmt.Errorf("error saving restored proofs: %v", err)
		}
		if err := db.IncrementKeysetCounter(walletKeyset.Id, restoreBatchSize); err != nil {
			return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
		}

		restored = append(restored, unspent...)
	}

	return restored, nil
}

// deterministicProbeBatch derives n sequential NUT-13 secrets and blinding
// factors for keysetId starting at counter and blinds each: unlike a
// normal send, restore must probe every counter in order rather than
// split an amount into denominations.
func deterministicProbeBatch(master hdkeys.Node, keysetId string, counter uint32, n int) (blind.Outputs, error) {
	keysetPath, err := nut13.DeriveKeysetPath(master, keysetId)
	if err != nil {
		return blind.Outputs{}, err
	}

	out := blind.Outputs{
		Messages: make(cashu.BlindedMessages, n),
		Secrets:  make([]string, n),
		Rs:       make([]*secp256k1.PrivateKey, n),
	}

	for i := 0; i < n; i++ {
		secret, err := nut13.DeriveSecret(keysetPath, counter+uint32(i))
		if err != nil {
			return blind.Outputs{}, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter+uint32(i))
		if err != nil {
			return blind.Outputs{}, err
		}

		B_, r, err := crypto.BlindSecret(secret, r)
		if err != nil {
			return blind.Outputs{}, err
		}

		out.Messages[i] = cashu.BlindedMessage{Id: keysetId, B_: hex.EncodeToString(B_.SerializeCompressed())}
		out.Secrets[i] = secret
		out.Rs[i] = r
	}

	return out, nil
}

// matchRestoredOutputs pairs restoreResponse's Outputs/Signatures (the
// mint may drop blinded messages it never signed, so the response can be
// shorter than the request) back to the secrets and blinding factors
// used to build out, by B_ value rather than position. Each matched
// message takes the amount of its returned signature, since restore
// probes carry no amount and blind.Unblind pairs by amount.
func matchRestoredOutputs(out blind.Outputs, restoreResponse *nut09.PostRestoreResponse) (blind.Outputs, cashu.BlindedSignatures) {
	bToIndex := make(map[string]int, len(out.Messages))
	for i, msg := range out.Messages {
		bToIndex[msg.B_] = i
	}

	matched := blind.Outputs{
		Messages: make(cashu.BlindedMessages, 0, len(restoreResponse.Signatures)),
		Secrets:  make([]string, 0, len(restoreResponse.Signatures)),
		Rs:       make([]*secp256k1.PrivateKey, 0, len(restoreResponse.Signatures)),
	}
	signatures := make(cashu.BlindedSignatures, 0, len(restoreResponse.Signatures))

	for i, returnedOutput := range restoreResponse.Outputs {
		idx, ok := bToIndex[returnedOutput.B_]
		if !ok {
			continue
		}
		msg := out.Messages[idx]
		if i < len(restoreResponse.Signatures) {
			msg.Amount = restoreResponse.Signatures[i].Amount
			signatures = append(signatures, restoreResponse.Signatures[i])
		}
		matched.Messages = append(matched.Messages, msg)
		matched.Secrets = append(matched.Secrets, out.Secrets[idx])
		matched.Rs = append(matched.Rs, out.Rs[idx])
	}

	return matched, signatures
}

// unspentProofs drops any proof the mint reports as already spent, via
// NUT-07 checkstate.
func unspentProofs(mintURL string, proofs cashu.Proofs) (cashu.Proofs, error) {
	if len(proofs) == 0 {
		return proofs, nil
	}

	Ys := make([]string, len(proofs))
	byY := make(map[string]cashu.Proof, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurveSafe([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		YHex := hex.EncodeToString(Y.SerializeCompressed())
		Ys[i] = YHex
		byY[YHex] = proof
	}

	response, err := client.PostCheckProofState(mintURL, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, err
	}

	unspent := cashu.Proofs{}
	for _, state := range response.States {
		if state.State == nut07.Unspent {
			unspent = append(unspent, byY[state.Y])
		}
	}
	return unspent, nil
}

// Package blind implements the wallet's blinding engine: splitting an
// amount into denominations, constructing the blinded messages sent to a
// mint, and turning the blinded signatures that come back into spendable
// proofs. It also derives the same secrets and blinding factors
// deterministically for NUT-13 restore.
package blind

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut11"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut12"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut13"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/hdkeys"
)

var ErrLengthMismatch = errors.New("blind: blinded signatures, secrets and blinding factors have different lengths")

// Outputs is the wallet-side half of a blinded message batch: the messages
// to send the mint, plus the secrets and blinding factors it must keep to
// unblind whatever comes back.
type Outputs struct {
	Messages cashu.BlindedMessages
	Secrets  []string
	Rs       []*secp256k1.PrivateKey
}

// Split builds one Outputs batch for amount against keyset, in ascending
// power-of-two denominations, using random secrets. domainSeparated
// selects NUT-00's current hash-to-curve algorithm over the legacy one,
// per what the mint advertises.
func Split(amount uint64, keysetId string, domainSeparated bool) (Outputs, error) {
	amounts := cashu.AmountSplit(amount)
	out := Outputs{
		Messages: make(cashu.BlindedMessages, len(amounts)),
		Secrets:  make([]string, len(amounts)),
		Rs:       make([]*secp256k1.PrivateKey, len(amounts)),
	}

	for i, amt := range amounts {
		secret, err := randomSecret()
		if err != nil {
			return Outputs{}, err
		}

		B_, r, err := blindFunc(domainSeparated)(secret, nil)
		if err != nil {
			return Outputs{}, err
		}

		out.Messages[i] = cashu.BlindedMessage{
			Amount: amt,
			Id:     keysetId,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
		}
		out.Secrets[i] = secret
		out.Rs[i] = r
	}

	return out, nil
}

// SplitDeterministic is Split using NUT-13 derived secrets and blinding
// factors instead of random ones, advancing counter by one per output.
// The wallet itself does not call it: sends and mints use Split, and the
// restore scanner builds its own amount-less probes from the same NUT-13
// derivation.
func SplitDeterministic(
	amount uint64,
	keysetId string,
	domainSeparated bool,
	master hdkeys.Node,
	counter uint32,
) (Outputs, uint32, error) {
	keysetPath, err := nut13.DeriveKeysetPath(master, keysetId)
	if err != nil {
		return Outputs{}, counter, err
	}

	amounts := cashu.AmountSplit(amount)
	out := Outputs{
		Messages: make(cashu.BlindedMessages, len(amounts)),
		Secrets:  make([]string, len(amounts)),
		Rs:       make([]*secp256k1.PrivateKey, len(amounts)),
	}

	for i, amt := range amounts {
		secret, err := nut13.DeriveSecret(keysetPath, counter)
		if err != nil {
			return Outputs{}, counter, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
		if err != nil {
			return Outputs{}, counter, err
		}
		counter++

		B_, r, err := blindFunc(domainSeparated)(secret, r)
		if err != nil {
			return Outputs{}, counter, err
		}

		out.Messages[i] = cashu.BlindedMessage{
			Amount: amt,
			Id:     keysetId,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
		}
		out.Secrets[i] = secret
		out.Rs[i] = r
	}

	return out, counter, nil
}

// SplitLocked is Split, but every output's secret is a NUT-10 well-known
// secret locking it to recipientPubkey (NUT-11 P2PK) instead of a random
// hex string, so only the holder of the matching private key can later
// spend the resulting proofs.
func SplitLocked(amount uint64, keysetId string, domainSeparated bool, recipientPubkey string) (Outputs, error) {
	amounts := cashu.AmountSplit(amount)
	out := Outputs{
		Messages: make(cashu.BlindedMessages, len(amounts)),
		Secrets:  make([]string, len(amounts)),
		Rs:       make([]*secp256k1.PrivateKey, len(amounts)),
	}

	for i, amt := range amounts {
		secret, err := nut11.P2PKSecret(recipientPubkey)
		if err != nil {
			return Outputs{}, err
		}

		B_, r, err := blindFunc(domainSeparated)(secret, nil)
		if err != nil {
			return Outputs{}, err
		}

		out.Messages[i] = cashu.BlindedMessage{
			Amount: amt,
			Id:     keysetId,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
		}
		out.Secrets[i] = secret
		out.Rs[i] = r
	}

	return out, nil
}

// Unblind pairs blinded signatures back with the secrets and blinding
// factors used to request them, producing spendable proofs under keyset.
// Pairing is by amount, not position: it walks out.Messages in order and
// for each consumes the first remaining signature of the same amount,
// since a mint is free to return its signatures in a different order than
// the outputs were submitted in. A mint may also return fewer signatures
// than outputs were requested (NUT-08 fee-return change); outputs with no
// matching signature left are skipped rather than treated as an error,
// which is what makes melt-with-change possible.
func Unblind(signatures cashu.BlindedSignatures, out Outputs, keyset crypto.WalletKeyset) (cashu.Proofs, error) {
	if len(out.Secrets) != len(out.Messages) || len(out.Rs) != len(out.Messages) {
		return nil, ErrLengthMismatch
	}
	if len(signatures) > len(out.Messages) {
		return nil, ErrLengthMismatch
	}

	byAmount := make(map[uint64][]cashu.BlindedSignature, len(signatures))
	for _, sig := range signatures {
		byAmount[sig.Amount] = append(byAmount[sig.Amount], sig)
	}

	proofs := make(cashu.Proofs, 0, len(signatures))
	for i, msg := range out.Messages {
		pending := byAmount[msg.Amount]
		if len(pending) == 0 {
			continue
		}
		sig := pending[0]
		byAmount[msg.Amount] = pending[1:]

		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, fmt.Errorf("blind: decoding signature: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, fmt.Errorf("blind: parsing signature: %v", err)
		}

		K, ok := keyset.PublicKeys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("blind: keyset '%v' has no key for amount %v", keyset.Id, sig.Amount)
		}

		if sig.DLEQ != nil && !nut12.VerifyBlindSignatureDLEQ(*sig.DLEQ, K, out.Messages[i].B_, sig.C_) {
			return nil, fmt.Errorf("blind: invalid DLEQ proof for signature on output %v", i)
		}

		C := crypto.UnblindSignature(C_, out.Rs[i], K)

		proof := cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: out.Secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if sig.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: sig.DLEQ.E,
				S: sig.DLEQ.S,
				R: hex.EncodeToString(out.Rs[i].Serialize()),
			}
		}
		proofs = append(proofs, proof)
	}

	return proofs, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func blindFunc(domainSeparated bool) func(string, *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	if domainSeparated {
		return crypto.BlindSecretDomainSeparated
	}
	return crypto.BlindSecret
}

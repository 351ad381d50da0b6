package blind

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/hdkeys"
	"github.com/tyler-smith/go-bip39"
)

func signWithMint(t *testing.T, out Outputs, k *secp256k1.PrivateKey) cashu.BlindedSignatures {
	t.Helper()
	sigs := make(cashu.BlindedSignatures, len(out.Messages))
	for i, msg := range out.Messages {
		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			t.Fatal(err)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			t.Fatal(err)
		}
		C_ := crypto.SignBlindedMessage(B_, k)
		sigs[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			Id:     msg.Id,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
		}
	}
	return sigs
}

func TestSplitUnblindRoundTrip(t *testing.T) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyset := crypto.WalletKeyset{
		Id:         "00882760bfa2eb41",
		Unit:       "sat",
		PublicKeys: map[uint64]*secp256k1.PublicKey{1: k.PubKey(), 2: k.PubKey(), 4: k.PubKey(), 8: k.PubKey(), 16: k.PubKey()},
	}

	out, err := Split(13, keyset.Id, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != len(out.Secrets) || len(out.Messages) != len(out.Rs) {
		t.Fatal("mismatched output lengths")
	}

	var total uint64
	for _, msg := range out.Messages {
		total += msg.Amount
	}
	if total != 13 {
		t.Errorf("expected split to sum to 13, got %v", total)
	}

	sigs := signWithMint(t, out, k)
	proofs, err := Unblind(sigs, out, keyset)
	if err != nil {
		t.Fatalf("unexpected error unblinding: %v", err)
	}
	if len(proofs) != len(out.Messages) {
		t.Fatalf("expected %v proofs, got %v", len(out.Messages), len(proofs))
	}

	for i, proof := range proofs {
		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			t.Fatal(err)
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			t.Fatal(err)
		}
		if !crypto.Verify([]byte(proof.Secret), k, C) {
			t.Errorf("proof %v failed verification", i)
		}
	}
}

func TestSplitDeterministicReproducible(t *testing.T) {
	mnemonic := "half sound wire lonely rely limit weekend order divide clown detail lion"
	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeys.NewMasterNode(seed)
	if err != nil {
		t.Fatal(err)
	}

	out1, next1, err := SplitDeterministic(13, "00882760bfa2eb41", false, master, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, next2, err := SplitDeterministic(13, "00882760bfa2eb41", false, master, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if next1 != next2 {
		t.Fatalf("expected matching next counters, got %v and %v", next1, next2)
	}
	for i := range out1.Secrets {
		if out1.Secrets[i] != out2.Secrets[i] {
			t.Errorf("secret %v not reproducible", i)
		}
		if out1.Messages[i].B_ != out2.Messages[i].B_ {
			t.Errorf("blinded message %v not reproducible", i)
		}
	}
}

// TestUnblindToleratesFewerSignaturesThanOutputs exercises NUT-08 change:
// a mint may sign only a subset of the blank outputs it was handed, and
// pairing is by amount, not position, so the surviving proof must come
// from the output whose amount actually matches the lone signature.
func TestUnblindToleratesFewerSignaturesThanOutputs(t *testing.T) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyset := crypto.WalletKeyset{
		Id:         "00882760bfa2eb41",
		Unit:       "sat",
		PublicKeys: map[uint64]*secp256k1.PublicKey{8: k.PubKey(), 16: k.PubKey()},
	}

	out, err := Split(24, keyset.Id, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 blank outputs for 24, got %v", len(out.Messages))
	}

	allSigs := signWithMint(t, out, k)
	var keptSig cashu.BlindedSignatures
	for _, sig := range allSigs {
		if sig.Amount == 16 {
			keptSig = append(keptSig, sig)
		}
	}
	if len(keptSig) != 1 {
		t.Fatalf("expected exactly one signature of amount 16, got %v", len(keptSig))
	}

	proofs, err := Unblind(keptSig, out, keyset)
	if err != nil {
		t.Fatalf("unexpected error unblinding a partial signature set: %v", err)
	}
	if len(proofs) != 1 || proofs[0].Amount != 16 {
		t.Fatalf("expected a single 16 sat proof, got %v", proofs)
	}
}

func TestUnblindRejectsLengthMismatch(t *testing.T) {
	out := Outputs{
		Secrets: []string{"a"},
		Rs:      []*secp256k1.PrivateKey{mustGenKey(t)},
	}
	keyset := crypto.WalletKeyset{}

	if _, err := Unblind(nil, out, keyset); err != ErrLengthMismatch {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func mustGenKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

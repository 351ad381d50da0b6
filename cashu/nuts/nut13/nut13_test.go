package nut13

import (
	"testing"

	"github.com/gonuts-core/walletcore/hdkeys"
	"github.com/tyler-smith/go-bip39"
)

func TestSecretDerivationDeterministic(t *testing.T) {
	mnemonic := "half depart obvious quality work element tank gorilla view sugar picture humble"
	keysetId := "009a1f293253e41e"

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeys.NewMasterNode(seed)
	if err != nil {
		t.Fatal(err)
	}

	keysetPath, err := DeriveKeysetPath(master, keysetId)
	if err != nil {
		t.Fatalf("could not derive keyset path: %v", err)
	}

	secrets := make([]string, 5)
	rs := make([]string, 5)

	for i := uint32(0); i < 5; i++ {
		secret, err := DeriveSecret(keysetPath, i)
		if err != nil {
			t.Fatalf("error deriving secret: %v", err)
		}
		secrets[i] = secret

		rkey, err := DeriveBlindingFactor(keysetPath, i)
		if err != nil {
			t.Fatalf("error deriving r: %v", err)
		}
		rs[i] = rkey.Key.String()
	}

	seen := make(map[string]bool)
	for i, secret := range secrets {
		if len(secret) != 64 {
			t.Errorf("expected 32-byte hex secret at index %v, got length %v", i, len(secret))
		}
		if seen[secret] {
			t.Errorf("secret at index %v collided with a previous index", i)
		}
		seen[secret] = true

		if secret == rs[i] {
			t.Errorf("secret and blinding factor at index %v should not match", i)
		}
	}

	// re-deriving from the same seed and path must reproduce the same values
	keysetPath2, err := DeriveKeysetPath(master, keysetId)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < 5; i++ {
		secret, err := DeriveSecret(keysetPath2, i)
		if err != nil {
			t.Fatal(err)
		}
		if secret != secrets[i] {
			t.Errorf("expected deterministic re-derivation at index %v", i)
		}
	}
}

func TestDeriveKeysetPathDistinctKeysets(t *testing.T) {
	seed := make([]byte, 32)
	master, err := hdkeys.NewMasterNode(seed)
	if err != nil {
		t.Fatal(err)
	}

	p1, err := DeriveKeysetPath(master, "009a1f293253e41e")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := DeriveKeysetPath(master, "00ad268c4d1f5826")
	if err != nil {
		t.Fatal(err)
	}

	if p1 == p2 {
		t.Error("expected distinct keysets to derive distinct paths")
	}
}

package hdkeys

import (
	"bytes"
	"testing"

	"github.com/tyler-smith/go-bip39"
)

func TestNewMasterNodeDeterministic(t *testing.T) {
	mnemonic := "half sound wire lonely rely limit weekend order divide clown detail lion"
	seed := bip39.NewSeed(mnemonic, "")

	n1, err := NewMasterNode(seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n2, err := NewMasterNode(seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n1 != n2 {
		t.Error("expected master node derivation to be deterministic")
	}
}

func TestHardenedChildRejectsNothingButIsHardened(t *testing.T) {
	seed := make([]byte, 32)
	master, err := NewMasterNode(seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c1 := master.HardenedChild(0)
	c2 := master.HardenedChild(0)
	if c1 != c2 {
		t.Error("expected deterministic hardened child derivation")
	}

	c3 := master.HardenedChild(1)
	if c1 == c3 {
		t.Error("expected different indices to produce different children")
	}
}

func TestDerivePathMatchesManualWalk(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	master, err := NewMasterNode(seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	manual := master.HardenedChild(129372).HardenedChild(0).HardenedChild(7).HardenedChild(20)
	viaPath := master.DerivePath(129372, 0, 7, 20)

	if manual != viaPath {
		t.Error("DerivePath should match a manual chain of HardenedChild calls")
	}
	if bytes.Equal(manual.Key[:], make([]byte, 32)) {
		t.Error("derived key should not be all zero")
	}
}

func TestNewMasterNodeRejectsBadSeedLength(t *testing.T) {
	if _, err := NewMasterNode(make([]byte, 8)); err == nil {
		t.Error("expected error for too-short seed")
	}
	if _, err := NewMasterNode(make([]byte, 65)); err == nil {
		t.Error("expected error for too-long seed")
	}
}

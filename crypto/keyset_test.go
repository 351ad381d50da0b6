package crypto

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestFee(t *testing.T) {
	tests := []struct {
		n           int
		inputFeePpk uint
		expected    uint64
	}{
		{n: 0, inputFeePpk: 100, expected: 0},
		{n: 3, inputFeePpk: 0, expected: 0},
		{n: 1, inputFeePpk: 100, expected: 1},
		{n: 3, inputFeePpk: 100, expected: 1},
		{n: 10, inputFeePpk: 100, expected: 1},
		{n: 11, inputFeePpk: 100, expected: 2},
		{n: 64, inputFeePpk: 1000, expected: 64},
	}

	for _, test := range tests {
		got := Fee(test.n, test.inputFeePpk)
		if got != test.expected {
			t.Errorf("Fee(%v, %v): expected '%v' but got '%v'", test.n, test.inputFeePpk, test.expected, got)
		}
	}
}

func testKey(seedByte byte) *secp256k1.PublicKey {
	priv := make([]byte, 32)
	priv[31] = seedByte + 1
	_, pub := btcec.PrivKeyFromBytes(priv)
	return pub
}

func TestDeriveKeysetIdOrderIndependent(t *testing.T) {
	keys := map[uint64]*secp256k1.PublicKey{
		1: testKey(1),
		2: testKey(2),
		4: testKey(3),
	}
	reordered := map[uint64]*secp256k1.PublicKey{
		4: keys[4],
		1: keys[1],
		2: keys[2],
	}

	id1 := DeriveKeysetId(keys)
	id2 := DeriveKeysetId(reordered)
	if id1 != id2 {
		t.Errorf("expected keyset id to be order independent: '%v' != '%v'", id1, id2)
	}
	if len(id1) != 16 {
		t.Errorf("expected keyset id of length 16, got %v ('%v')", len(id1), id1)
	}
	if id1[:2] != "00" {
		t.Errorf("expected keyset id version prefix '00', got '%v'", id1[:2])
	}
}

package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// WalletKeyset is a mint's public-key family as observed and cached by the
// wallet. Unlike a mint's own keyset record, it never holds private keys.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	InputFeePpk uint
	// Counter is the next unused NUT-13 derivation index for this keyset,
	// advanced by the restore scanner.
	Counter uint32
}

// KeysetsMap indexes cached keysets by mint URL then keyset id.
type KeysetsMap map[string]map[string]WalletKeyset

// MapPubKeys parses a NUT-01 amount->hex map into amount->PublicKey.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	pubkeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(pkbytes)
		if err != nil {
			return nil, err
		}
		pubkeys[amount] = pubkey
	}
	return pubkeys, nil
}

// DeriveKeysetId recomputes a keyset id from its public keys the same way a
// mint does, so the wallet can detect a mint lying about a keyset's id.
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	pubkeys := make([]byte, 0, len(keys)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// Fee computes the NUT-02 input fee for spending n proofs from a keyset
// charging inputFeePpk parts-per-thousand per input: ceil(n*ppk/1000).
func Fee(n int, inputFeePpk uint) uint64 {
	if inputFeePpk == 0 || n == 0 {
		return 0
	}
	total := uint64(n) * uint64(inputFeePpk)
	return (total + 999) / 1000
}

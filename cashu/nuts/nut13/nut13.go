// Package nut13 derives deterministic per-proof secrets and blinding
// factors from a wallet's BIP39 seed, so proofs can be recreated during a
// restore without ever having been persisted.
package nut13

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gonuts-core/walletcore/hdkeys"
)

// DeriveKeysetPath walks the wallet's master node down to the per-keyset
// node at m/129372'/0'/keysetIndex', where keysetIndex folds the keyset
// id's first 8 bytes into a 31-bit hardened index.
func DeriveKeysetPath(master hdkeys.Node, keysetId string) (hdkeys.Node, error) {
	keysetBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		return hdkeys.Node{}, err
	}
	if len(keysetBytes) < 8 {
		padded := make([]byte, 8)
		copy(padded[8-len(keysetBytes):], keysetBytes)
		keysetBytes = padded
	}
	keysetIdInt := binary.BigEndian.Uint64(keysetBytes) % (1<<31 - 1)
	return master.DerivePath(129372, 0, uint32(keysetIdInt)), nil
}

// DeriveSecret computes sⱼ = HMAC-SHA256(key=node.key, message=0x00) for
// the node at m/.../counter', giving the proof secret at that index.
func DeriveSecret(keysetPath hdkeys.Node, counter uint32) (string, error) {
	node := keysetPath.HardenedChild(counter)
	mac := hmac.New(sha256.New, node.Key[:])
	mac.Write([]byte{0x00})
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// DeriveBlindingFactor computes rⱼ = HMAC-SHA256(key=node.key, message=0x01)
// for the node at m/.../counter', giving the blinding factor at that index.
func DeriveBlindingFactor(keysetPath hdkeys.Node, counter uint32) (*secp256k1.PrivateKey, error) {
	node := keysetPath.HardenedChild(counter)
	mac := hmac.New(sha256.New, node.Key[:])
	mac.Write([]byte{0x01})
	r := secp256k1.PrivKeyFromBytes(mac.Sum(nil))
	return r, nil
}

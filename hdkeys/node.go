// Package hdkeys implements the minimal hardened-only BIP32-style
// derivation tree the wallet uses to walk from a BIP39 seed down to a
// per-keyset, per-index node for NUT-13 deterministic secret derivation.
//
// Only hardened derivation is implemented: the core has no use for
// non-hardened children, and omitting them keeps this package small enough
// to audit end to end.
package hdkeys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
)

// HardenedOffset is the BIP32 index at which hardened derivation begins.
const HardenedOffset uint32 = 1 << 31

var (
	masterSecret = []byte("Bitcoin seed")

	ErrInvalidSeedLength = errors.New("hdkeys: seed must be between 16 and 64 bytes")
	ErrNotHardened       = errors.New("hdkeys: index must be a hardened index (>= 2^31)")
)

// Node is a BIP32 extended-key node holding only what the wallet needs:
// the 32-byte private key material and its chain code.
type Node struct {
	Key       [32]byte
	ChainCode [32]byte
}

// NewMasterNode derives the master node from a BIP39 seed per BIP32:
// HMAC-SHA512(key="Bitcoin seed", data=seed) split into key || chain code.
func NewMasterNode(seed []byte) (Node, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return Node{}, ErrInvalidSeedLength
	}

	mac := hmac.New(sha512.New, masterSecret)
	mac.Write(seed)
	sum := mac.Sum(nil)

	var node Node
	copy(node.Key[:], sum[:32])
	copy(node.ChainCode[:], sum[32:])
	return node, nil
}

// HardenedChild derives the hardened child at the given index (the caller
// passes the plain index; HardenedOffset is added internally). Per BIP32:
// HMAC-SHA512(key=chainCode, data=0x00 || key || ser32(index)).
func (n Node) HardenedChild(index uint32) Node {
	var data [1 + 32 + 4]byte
	// data[0] stays 0x00: the "hardened" leading byte for private-key derivation.
	copy(data[1:33], n.Key[:])
	binary.BigEndian.PutUint32(data[33:], HardenedOffset+index)

	mac := hmac.New(sha512.New, n.ChainCode[:])
	mac.Write(data[:])
	sum := mac.Sum(nil)

	var child Node
	copy(child.Key[:], sum[:32])
	copy(child.ChainCode[:], sum[32:])
	return child
}

// DerivePath walks a sequence of hardened indices from n, returning the
// node at the end of the path. All path components in this codebase are
// hardened (see NUT-13's m/129372'/0'/keyset'/index').
func (n Node) DerivePath(indices ...uint32) Node {
	node := n
	for _, idx := range indices {
		node = node.HardenedChild(idx)
	}
	return node
}

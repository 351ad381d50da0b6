package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// p2pkDerivationPath is the fixed hardened path this wallet uses to derive
// the key it locks P2PK (NUT-11) outputs to: m/129372'/0'/1'/0'.
var p2pkDerivationPath = [...]uint32{129372, 0, 1, 0}

// DeriveP2PK derives the wallet's P2PK receiving key from its master node.
// The key is deterministic across restarts: a wallet restored from its
// mnemonic recovers the same locking key without needing a backup of it.
func (w *Wallet) DeriveP2PK() (*btcec.PrivateKey, error) {
	node := w.master.DerivePath(p2pkDerivationPath[:]...)
	priv, _ := btcec.PrivKeyFromBytes(node.Key[:])
	return priv, nil
}

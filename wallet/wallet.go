// Package wallet implements the Cashu wallet core: keyset caching,
// blinded-message construction, the swap/mint/melt/restore operations,
// and the proof store that backs a spendable balance.
package wallet

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/gonuts-core/walletcore/blind"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut03"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut11"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut14"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/hdkeys"
	"github.com/gonuts-core/walletcore/wallet/client"
	"github.com/gonuts-core/walletcore/wallet/events"
	"github.com/gonuts-core/walletcore/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

// Config configures a new or loaded wallet.
type Config struct {
	WalletPath       string
	CurrentMintURL   string
	DomainSeparation bool
}

// mintConnection is the wallet's cached view of a single mint's keysets.
type mintConnection struct {
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

// Wallet is the spending and receiving half of a Cashu client: it tracks
// proofs, quotes and keysets for every mint it has talked to. Its P2PK key
// and its restore probes are derived from a single BIP-39 mnemonic; the
// secrets of minted, swapped and sent outputs are random.
type Wallet struct {
	mu sync.Mutex

	db     storage.DB
	events *events.Bus

	mnemonic string
	master   hdkeys.Node

	unit             cashu.Unit
	domainSeparation bool

	CurrentMintURL string
	mints          map[string]mintConnection
}

// LoadWallet opens (or initializes) the wallet database at config.WalletPath,
// generating a fresh mnemonic on first run, and connects to config.CurrentMintURL.
func LoadWallet(config Config) (*Wallet, error) {
	db, err := storage.InitBolt(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing wallet storage: %v", err)
	}

	mnemonic, seed := db.GetMnemonic()
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		seed = bip39.NewSeed(mnemonic, "")
		if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
			return nil, fmt.Errorf("error saving wallet seed: %v", err)
		}
	}

	master, err := hdkeys.NewMasterNode(seed)
	if err != nil {
		return nil, fmt.Errorf("error deriving wallet master key: %v", err)
	}

	unit := cashu.Sat

	w := &Wallet{
		db:               db,
		events:           events.NewBus(),
		mnemonic:         mnemonic,
		master:           master,
		unit:             unit,
		domainSeparation: config.DomainSeparation,
		mints:            make(map[string]mintConnection),
	}

	for mintURL, keysets := range db.GetKeysets() {
		conn := mintConnection{inactiveKeysets: make(map[string]crypto.WalletKeyset)}
		for id, keyset := range keysets {
			if keyset.Active {
				conn.activeKeyset = keyset
			} else {
				conn.inactiveKeysets[id] = keyset
			}
		}
		w.mints[mintURL] = conn
	}

	if config.CurrentMintURL != "" {
		mintURL, err := url.Parse(config.CurrentMintURL)
		if err != nil {
			return nil, fmt.Errorf("invalid mint url: %v", err)
		}
		w.CurrentMintURL = mintURL.String()

		if _, err := w.AddMint(w.CurrentMintURL); err != nil {
			return nil, fmt.Errorf("error connecting to mint: %v", err)
		}
	}

	return w, nil
}

// AddMint fetches and caches the active and inactive keysets for mintURL,
// persisting any the wallet has not seen before.
func (w *Wallet) AddMint(mintURL string) (*crypto.WalletKeyset, error) {
	activeKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return nil, fmt.Errorf("error getting active keyset from mint: %v", err)
	}

	inactiveKeysets, err := GetMintInactiveKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting inactive keysets from mint: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	known := w.mints[mintURL]
	if known.inactiveKeysets == nil {
		known.inactiveKeysets = make(map[string]crypto.WalletKeyset)
	}

	if known.activeKeyset.Id != activeKeyset.Id {
		if err := w.db.SaveKeyset(activeKeyset); err != nil {
			return nil, err
		}
	}
	known.activeKeyset = *activeKeyset

	for id, keyset := range inactiveKeysets {
		if _, ok := known.inactiveKeysets[id]; !ok {
			keyset := keyset
			if err := w.db.SaveKeyset(&keyset); err != nil {
				return nil, err
			}
			known.inactiveKeysets[id] = keyset
		}
	}

	w.mints[mintURL] = known
	return activeKeyset, nil
}

// Events returns the wallet's lifecycle event bus.
func (w *Wallet) Events() *events.Bus {
	return w.events
}

// Mnemonic returns the BIP-39 mnemonic backing this wallet's derived
// secrets, so the caller can display it for backup.
func (w *Wallet) Mnemonic() string {
	return w.mnemonic
}

// GetBalance returns the sum of all unspent proofs across every mint.
func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

// GetBalanceByMint returns the unspent balance held in proofs from mintURL.
func (w *Wallet) GetBalanceByMint(mintURL string) uint64 {
	conn, ok := w.mints[mintURL]
	if !ok {
		return 0
	}

	keysetIds := map[string]bool{conn.activeKeyset.Id: true}
	for id := range conn.inactiveKeysets {
		keysetIds[id] = true
	}

	var balance uint64
	for _, proof := range w.db.GetProofs() {
		if keysetIds[proof.Id] {
			balance += proof.Amount
		}
	}
	return balance
}

// Send selects amount worth of proofs from mintURL, swapping with the mint
// for exact denominations when the existing proofs don't split evenly,
// and returns a token the recipient can redeem.
func (w *Wallet) Send(mintURL string, amount uint64) (cashu.Token, error) {
	proofsToSend, err := w.selectProofsForSend(mintURL, amount)
	if err != nil {
		return nil, err
	}

	return cashu.NewTokenV4(proofsToSend, mintURL, w.unit, true)
}

// SendToPubkey is Send, but locks the token's proofs to recipientPubkey
// (NUT-10/11 P2PK): only the holder of the matching private key can
// redeem it, regardless of who ends up holding the token string itself.
func (w *Wallet) SendToPubkey(mintURL string, amount uint64, recipientPubkey string) (cashu.Token, error) {
	proofsToSend, err := w.selectProofsForLockedSend(mintURL, amount, recipientPubkey)
	if err != nil {
		return nil, err
	}

	return cashu.NewTokenV4(proofsToSend, mintURL, w.unit, true)
}

// Receive redeems every proof in token via a swap against its mint,
// storing the resulting proofs in this wallet, and returns the amount
// received net of the mint's swap fee. Proofs locked to this wallet's own
// P2PK key (NUT-11) are signed automatically before the swap.
func (w *Wallet) Receive(token cashu.Token) (uint64, error) {
	proofsToSwap := token.Proofs()

	if anyLocked(proofsToSwap) {
		lockedTo, err := w.DeriveP2PK()
		if err != nil {
			return 0, fmt.Errorf("error deriving locking key: %v", err)
		}
		proofsToSwap, err = nut11.AddSignatureToInputs(proofsToSwap, lockedTo)
		if err != nil {
			return 0, fmt.Errorf("error signing locked proofs: %v", err)
		}
	}

	return w.swapIn(token.Mint(), proofsToSwap)
}

// ReceiveHTLC redeems an HTLC-locked token (NUT-14) by attaching preimage
// and this wallet's P2PK signature as the witness before the swap.
func (w *Wallet) ReceiveHTLC(token cashu.Token, preimage string) (uint64, error) {
	lockedTo, err := w.DeriveP2PK()
	if err != nil {
		return 0, fmt.Errorf("error deriving locking key: %v", err)
	}

	proofsToSwap, err := nut14.AddWitnessHTLC(token.Proofs(), preimage, lockedTo)
	if err != nil {
		return 0, fmt.Errorf("error building HTLC witness: %v", err)
	}

	return w.swapIn(token.Mint(), proofsToSwap)
}

// swapIn is the shared redeem path for Receive/ReceiveHTLC: swap
// proofsToSwap for fresh proofs at mintURL, net of the mint's input fee,
// and store the result.
func (w *Wallet) swapIn(mintURL string, proofsToSwap cashu.Proofs) (uint64, error) {
	keyset, err := w.getActiveSatKeyset(mintURL)
	if err != nil {
		return 0, err
	}

	fee := w.inputFee(proofsToSwap, *keyset)
	received := proofsToSwap.Amount() - fee

	out, err := blind.Split(received, keyset.Id, w.domainSeparation)
	if err != nil {
		return 0, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapResponse, err := client.PostSwap(mintURL, nut03.PostSwapRequest{
		Inputs:  proofsToSwap,
		Outputs: out.Messages,
	})
	if err != nil {
		return 0, fmt.Errorf("error swapping proofs with mint: %v", err)
	}

	proofs, err := w.unblindAndStore(swapResponse.Signatures, out, *keyset)
	if err != nil {
		return 0, err
	}

	return proofs.Amount(), nil
}

func (w *Wallet) inputFee(proofs cashu.Proofs, keyset crypto.WalletKeyset) uint64 {
	return crypto.Fee(len(proofs), keyset.InputFeePpk)
}

// anyLocked reports whether any proof carries a NUT-11 P2PK secret, which
// requires a witness before a mint will redeem it. HTLC secrets are not
// detected here.
func anyLocked(proofs cashu.Proofs) bool {
	for _, proof := range proofs {
		if nut11.IsSecretP2PK(proof) {
			return true
		}
	}
	return false
}

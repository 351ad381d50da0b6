package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/crypto"
	"github.com/gonuts-core/walletcore/wallet/client"
)

// GetMintActiveKeyset gets the active keyset with the specified unit from a mint.
func GetMintActiveKeyset(mintURL string, unit cashu.Unit) (*crypto.WalletKeyset, error) {
	allKeysets, err := client.GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	keysResponse, err := client.GetActiveKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active keysets from mint: %v", err)
	}

	for i, keyset := range keysResponse.Keysets {
		if keyset.Unit != unit.String() {
			continue
		}

		var inputFeePpk uint
		for _, ks := range allKeysets.Keysets {
			if ks.Id == keyset.Id {
				inputFeePpk = ks.InputFeePpk
				break
			}
		}

		if _, err := hex.DecodeString(keyset.Id); err != nil {
			continue
		}

		keys, err := crypto.MapPubKeys(keysResponse.Keysets[i].Keys)
		if err != nil {
			return nil, err
		}
		id := crypto.DeriveKeysetId(keys)
		if id != keyset.Id {
			return nil, fmt.Errorf("got invalid keyset: derived id '%v' but mint reported '%v'", id, keyset.Id)
		}

		return &crypto.WalletKeyset{
			Id:          id,
			MintURL:     mintURL,
			Unit:        keyset.Unit,
			Active:      true,
			PublicKeys:  keys,
			InputFeePpk: inputFeePpk,
		}, nil
	}

	return nil, errors.New("could not find an active keyset for the unit")
}

// GetMintInactiveKeysets returns every inactive keyset of the wallet's unit from a mint.
func GetMintInactiveKeysets(mintURL string) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := client.GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if _, err := hex.DecodeString(keysetRes.Id); err != nil {
			continue
		}
		if !keysetRes.Active && keysetRes.Unit == cashu.Sat.String() {
			inactiveKeysets[keysetRes.Id] = crypto.WalletKeyset{
				Id:          keysetRes.Id,
				MintURL:     mintURL,
				Unit:        keysetRes.Unit,
				Active:      keysetRes.Active,
				InputFeePpk: keysetRes.InputFeePpk,
			}
		}
	}
	return inactiveKeysets, nil
}

// getActiveSatKeyset returns the cached active sat keyset for mintURL, refreshing
// and inactivating the previous active one if the mint has rotated.
func (w *Wallet) getActiveSatKeyset(mintURL string) (*crypto.WalletKeyset, error) {
	w.mu.Lock()
	conn, known := w.mints[mintURL]
	w.mu.Unlock()

	if !known {
		return GetMintActiveKeyset(mintURL, w.unit)
	}

	allKeysets, err := client.GetAllKeysets(mintURL)
	if err != nil {
		return nil, err
	}

	activeKeyset := conn.activeKeyset
	stillActive := false
	for _, keyset := range allKeysets.Keysets {
		if keyset.Active && keyset.Id == activeKeyset.Id {
			stillActive = true
			break
		}
	}
	if stillActive {
		return &activeKeyset, nil
	}

	activeKeyset.Active = false
	if err := w.db.SaveKeyset(&activeKeyset); err != nil {
		return nil, err
	}

	newActive, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	if err := w.db.SaveKeyset(newActive); err != nil {
		return nil, err
	}

	w.mu.Lock()
	conn.inactiveKeysets[activeKeyset.Id] = activeKeyset
	conn.activeKeyset = *newActive
	w.mints[mintURL] = conn
	w.mu.Unlock()

	return newActive, nil
}

func getKeysetKeys(mintURL, id string) (map[uint64]*secp256k1.PublicKey, error) {
	keysetsResponse, err := client.GetKeysetById(mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}

	if len(keysetsResponse.Keysets) == 0 || keysetsResponse.Keysets[0].Unit != cashu.Sat.String() {
		return nil, fmt.Errorf("mint returned no usable keyset for id '%v'", id)
	}

	return crypto.MapPubKeys(keysetsResponse.Keysets[0].Keys)
}

package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	proofsBucket        = "proofs"
	pendingProofsBucket = "pending_proofs"
	mintQuotesBucket    = "mint_quotes"
	meltQuotesBucket    = "melt_quotes"
	keysetsBucket       = "keysets"
	seedBucket          = "seed"

	mnemonicKey = "mnemonic"
	seedKey     = "seed"
)

var buckets = []string{
	proofsBucket,
	pendingProofsBucket,
	mintQuotesBucket,
	meltQuotesBucket,
	keysetsBucket,
	seedBucket,
}

type BoltDB struct {
	bolt *bolt.DB
}

// InitBolt opens (or creates) the bbolt-backed wallet database at path.
func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path+"/wallet.db", 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening wallet db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initBuckets(); err != nil {
		return nil, err
	}
	return boltdb, nil
}

func (db *BoltDB) initBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func proofY(secret string) (string, error) {
	Y, err := crypto.HashToCurveSafe([]byte(secret))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(Y.SerializeCompressed()), nil
}

// SaveProofs upserts proofs into the unspent set, keyed by C (their
// identity). A proof currently reserved in the pending bucket is left
// alone rather than resurrected out from under that reservation: its
// owning reservation is still authoritative until it commits, rolls
// back, or expires (ReviveExpiredPendingProofs). Otherwise the record is
// overwritten with the incoming metadata and returned to unspent,
// covering both a fresh insert and revive-on-rediscovery of a proof a
// prior run had marked reserved or removed.
func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsB := tx.Bucket([]byte(proofsBucket))
		pendingB := tx.Bucket([]byte(pendingProofsBucket))
		for _, proof := range proofs {
			dbProof, err := toDBProof(proof, "")
			if err != nil {
				return err
			}

			if pendingB.Get([]byte(dbProof.Y)) != nil {
				continue
			}

			dbProof.State = cashu.ProofUnspent
			dbProof.ReservedUntil = 0
			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return err
			}
			if err := proofsB.Put([]byte(dbProof.C), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		return b.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			proofs = append(proofs, dbProof.toProof())
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetProofsByKeysetId(id string) cashu.Proofs {
	proofs := cashu.Proofs{}
	for _, proof := range db.GetProofs() {
		if proof.Id == id {
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (db *BoltDB) DeleteProof(C string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(proofsBucket)).Delete([]byte(C))
	})
}

// AddPendingProofs moves proofs out of the unspent set and into the
// pending bucket as a plain (non-melt) reservation, keyed by Y, which is
// how DeletePendingProofs addresses them.
// Each is stamped reserved with a deadline of timeout from now.
func (db *BoltDB) AddPendingProofs(proofs cashu.Proofs, timeout time.Duration) error {
	return db.addPendingProofs(proofs, "", timeout)
}

func (db *BoltDB) AddPendingProofsByQuoteId(proofs cashu.Proofs, quoteId string, timeout time.Duration) error {
	return db.addPendingProofs(proofs, quoteId, timeout)
}

func (db *BoltDB) addPendingProofs(proofs cashu.Proofs, quoteId string, timeout time.Duration) error {
	reservedUntil := time.Now().Add(timeout).Unix()
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsB := tx.Bucket([]byte(proofsBucket))
		pendingB := tx.Bucket([]byte(pendingProofsBucket))
		for _, proof := range proofs {
			dbProof, err := toDBProof(proof, quoteId)
			if err != nil {
				return err
			}
			dbProof.State = cashu.ProofReserved
			dbProof.ReservedUntil = reservedUntil

			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return err
			}
			if err := pendingB.Put([]byte(dbProof.Y), jsonProof); err != nil {
				return err
			}
			if err := proofsB.Delete([]byte(dbProof.C)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UnreservePendingProofs moves proofs from the pending bucket back to
// the unspent set, clearing their reservation.
func (db *BoltDB) UnreservePendingProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsB := tx.Bucket([]byte(proofsBucket))
		pendingB := tx.Bucket([]byte(pendingProofsBucket))
		for _, proof := range proofs {
			dbProof, err := toDBProof(proof, "")
			if err != nil {
				return err
			}
			if err := pendingB.Delete([]byte(dbProof.Y)); err != nil {
				return err
			}
			dbProof.State = cashu.ProofUnspent
			dbProof.ReservedUntil = 0
			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return err
			}
			if err := proofsB.Put([]byte(dbProof.C), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReviveExpiredPendingProofs sweeps the pending bucket for reservations
// past their deadline and returns them to unspent, so a crash between
// reserve and commit-or-rollback doesn't strand proofs pending forever.
func (db *BoltDB) ReviveExpiredPendingProofs() (cashu.Proofs, error) {
	now := time.Now().Unix()
	revived := cashu.Proofs{}
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		pendingB := tx.Bucket([]byte(pendingProofsBucket))
		proofsB := tx.Bucket([]byte(proofsBucket))

		var expiredYs [][]byte
		if err := pendingB.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			if dbProof.ReservedUntil == 0 || dbProof.ReservedUntil > now {
				return nil
			}

			dbProof.State = cashu.ProofUnspent
			dbProof.ReservedUntil = 0
			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return err
			}
			if err := proofsB.Put([]byte(dbProof.C), jsonProof); err != nil {
				return err
			}
			revived = append(revived, dbProof.toProof())
			expiredYs = append(expiredYs, append([]byte{}, k...))
			return nil
		}); err != nil {
			return err
		}

		for _, y := range expiredYs {
			if err := pendingB.Delete(y); err != nil {
				return err
			}
		}
		return nil
	})
	return revived, err
}

func (db *BoltDB) GetPendingProofs() []DBProof {
	proofs := []DBProof{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pendingProofsBucket))
		return b.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			proofs = append(proofs, dbProof)
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetPendingProofsByQuoteId(quoteId string) []DBProof {
	proofs := []DBProof{}
	for _, proof := range db.GetPendingProofs() {
		if proof.MeltQuoteId == quoteId {
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (db *BoltDB) DeletePendingProofs(Ys []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pendingProofsBucket))
		for _, Y := range Ys {
			if err := b.Delete([]byte(Y)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) DeletePendingProofsByQuoteId(quoteId string) error {
	Ys := make([]string, 0)
	for _, proof := range db.GetPendingProofsByQuoteId(quoteId) {
		Ys = append(Ys, proof.Y)
	}
	return db.DeletePendingProofs(Ys)
}

func toDBProof(proof cashu.Proof, quoteId string) (DBProof, error) {
	Y, err := proofY(proof.Secret)
	if err != nil {
		return DBProof{}, err
	}
	return DBProof{
		Y:           Y,
		Amount:      proof.Amount,
		Id:          proof.Id,
		Secret:      proof.Secret,
		C:           proof.C,
		DLEQ:        proof.DLEQ,
		MeltQuoteId: quoteId,
		State:       cashu.ProofUnspent,
	}, nil
}

func (db *BoltDB) SaveMintQuote(quote MintQuote) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		jsonQuote, err := json.Marshal(quote)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(mintQuotesBucket)).Put([]byte(quote.QuoteId), jsonQuote)
	})
}

func (db *BoltDB) GetMintQuoteById(id string) *MintQuote {
	var quote *MintQuote
	db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(mintQuotesBucket)).Get([]byte(id))
		if v == nil {
			return nil
		}
		var q MintQuote
		if err := json.Unmarshal(v, &q); err != nil {
			return err
		}
		quote = &q
		return nil
	})
	return quote
}

func (db *BoltDB) GetMintQuotes() []MintQuote {
	quotes := []MintQuote{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mintQuotesBucket))
		return b.ForEach(func(k, v []byte) error {
			var q MintQuote
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			quotes = append(quotes, q)
			return nil
		})
	})
	return quotes
}

func (db *BoltDB) SaveMeltQuote(quote MeltQuote) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		jsonQuote, err := json.Marshal(quote)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(meltQuotesBucket)).Put([]byte(quote.QuoteId), jsonQuote)
	})
}

func (db *BoltDB) GetMeltQuoteById(id string) *MeltQuote {
	var quote *MeltQuote
	db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(meltQuotesBucket)).Get([]byte(id))
		if v == nil {
			return nil
		}
		var q MeltQuote
		if err := json.Unmarshal(v, &q); err != nil {
			return err
		}
		quote = &q
		return nil
	})
	return quote
}

func (db *BoltDB) GetMeltQuotes() []MeltQuote {
	quotes := []MeltQuote{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(meltQuotesBucket))
		return b.ForEach(func(k, v []byte) error {
			var q MeltQuote
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			quotes = append(quotes, q)
			return nil
		})
	})
	return quotes
}

func keysetKey(mintURL, id string) string {
	return mintURL + "|" + id
}

// dbKeyset is crypto.WalletKeyset with its public keys serialized as hex,
// since secp256k1.PublicKey has no exported fields for encoding/json to see.
type dbKeyset struct {
	Id          string            `json:"id"`
	MintURL     string            `json:"mint_url"`
	Unit        string            `json:"unit"`
	Active      bool              `json:"active"`
	PublicKeys  map[uint64]string `json:"public_keys"`
	InputFeePpk uint              `json:"input_fee_ppk"`
	Counter     uint32            `json:"counter"`
}

func toDBKeyset(keyset *crypto.WalletKeyset) dbKeyset {
	keys := make(map[uint64]string, len(keyset.PublicKeys))
	for amount, key := range keyset.PublicKeys {
		keys[amount] = hex.EncodeToString(key.SerializeCompressed())
	}
	return dbKeyset{
		Id:          keyset.Id,
		MintURL:     keyset.MintURL,
		Unit:        keyset.Unit,
		Active:      keyset.Active,
		PublicKeys:  keys,
		InputFeePpk: keyset.InputFeePpk,
		Counter:     keyset.Counter,
	}
}

func (dbk dbKeyset) toWalletKeyset() (crypto.WalletKeyset, error) {
	keys, err := crypto.MapPubKeys(dbk.PublicKeys)
	if err != nil {
		return crypto.WalletKeyset{}, err
	}
	return crypto.WalletKeyset{
		Id:          dbk.Id,
		MintURL:     dbk.MintURL,
		Unit:        dbk.Unit,
		Active:      dbk.Active,
		PublicKeys:  keys,
		InputFeePpk: dbk.InputFeePpk,
		Counter:     dbk.Counter,
	}, nil
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		jsonKeyset, err := json.Marshal(toDBKeyset(keyset))
		if err != nil {
			return err
		}
		key := keysetKey(keyset.MintURL, keyset.Id)
		return tx.Bucket([]byte(keysetsBucket)).Put([]byte(key), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() crypto.KeysetsMap {
	keysets := crypto.KeysetsMap{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		return b.ForEach(func(k, v []byte) error {
			var dbk dbKeyset
			if err := json.Unmarshal(v, &dbk); err != nil {
				return err
			}
			keyset, err := dbk.toWalletKeyset()
			if err != nil {
				return err
			}
			if keysets[keyset.MintURL] == nil {
				keysets[keyset.MintURL] = make(map[string]crypto.WalletKeyset)
			}
			keysets[keyset.MintURL][keyset.Id] = keyset
			return nil
		})
	})
	return keysets
}

func (db *BoltDB) IncrementKeysetCounter(keysetId string, n uint32) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbk dbKeyset
			if err := json.Unmarshal(v, &dbk); err != nil {
				return err
			}
			if dbk.Id != keysetId {
				continue
			}
			dbk.Counter += n
			jsonKeyset, err := json.Marshal(dbk)
			if err != nil {
				return err
			}
			return b.Put(k, jsonKeyset)
		}
		return fmt.Errorf("no keyset found with id '%v'", keysetId)
	})
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seedBucket))
		if err := b.Put([]byte(mnemonicKey), []byte(mnemonic)); err != nil {
			return err
		}
		return b.Put([]byte(seedKey), seed)
	})
}

func (db *BoltDB) GetMnemonic() (string, []byte) {
	var mnemonic string
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seedBucket))
		mnemonic = string(b.Get([]byte(mnemonicKey)))
		seed = b.Get([]byte(seedKey))
		return nil
	})
	return mnemonic, seed
}

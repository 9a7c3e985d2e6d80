// Package security implements the Key store: tenant API-key issuance,
// revocation, and validation, backed by the same BoltDB handle the Job
// Store uses.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAPIKeys = []byte("api_keys")

// ErrKeyNotFound is returned by Revoke and Validate when the key is unknown.
var ErrKeyNotFound = errors.New("api key not found")

// KeyRecord is the metadata stored alongside a hashed API key.
type KeyRecord struct {
	Owner       string    `json:"owner"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// KeyStore is a BoltDB-backed store of API keys, keyed by each key's hash
// and recording the owner identity the key was issued to.
// Keys themselves are never stored in plaintext; only their SHA-256 hash
// is persisted.
type KeyStore struct {
	db *bolt.DB
}

// NewKeyStore wraps an already-open *bolt.DB, creating its bucket if absent.
func NewKeyStore(db *bolt.DB) (*KeyStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAPIKeys)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketAPIKeys, err)
	}
	return &KeyStore{db: db}, nil
}

// Create mints a new random API key for owner and persists its hash.
// The plaintext key is returned exactly once; it cannot be recovered later.
func (k *KeyStore) Create(owner, description string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	record := KeyRecord{Owner: owner, Description: description, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	err = k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).Put(hashKey(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store api key: %w", err)
	}
	return key, nil
}

// Revoke deletes a key by its plaintext value.
func (k *KeyStore) Revoke(key string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		h := hashKey(key)
		if b.Get(h) == nil {
			return ErrKeyNotFound
		}
		return b.Delete(h)
	})
}

// Validate checks a presented key and returns the owner it was issued to.
func (k *KeyStore) Validate(key string) (string, error) {
	var owner string
	err := k.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAPIKeys).Get(hashKey(key))
		if data == nil {
			return ErrKeyNotFound
		}
		var record KeyRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to decode api key record: %w", err)
		}
		owner = record.Owner
		return nil
	})
	if err != nil {
		return "", err
	}
	return owner, nil
}

// List returns every issued key's metadata, keyed by its hash (the
// plaintext key cannot be recovered, so callers identify keys by owner
// and description, not by value).
func (k *KeyStore) List() (map[string]KeyRecord, error) {
	out := make(map[string]KeyRecord)
	err := k.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(keyHash, data []byte) error {
			var record KeyRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("failed to decode api key record: %w", err)
			}
			out[hex.EncodeToString(keyHash)] = record
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return out, nil
}

func hashKey(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

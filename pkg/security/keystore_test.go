package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "keys.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks, err := NewKeyStore(db)
	require.NoError(t, err)
	return ks
}

func TestCreateAndValidate(t *testing.T) {
	ks := newTestKeyStore(t)

	key, err := ks.Create("alice", "ci pipeline")
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	owner, err := ks.Validate(key)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestValidateUnknownKeyFails(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.Validate("not-a-real-key")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRevokeRemovesKey(t *testing.T) {
	ks := newTestKeyStore(t)

	key, err := ks.Create("bob", "")
	require.NoError(t, err)

	require.NoError(t, ks.Revoke(key))

	_, err = ks.Validate(key)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRevokeUnknownKeyFails(t *testing.T) {
	ks := newTestKeyStore(t)
	err := ks.Revoke("ghost")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestListReturnsAllKeys(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.Create("alice", "one")
	require.NoError(t, err)
	_, err = ks.Create("bob", "two")
	require.NoError(t, err)

	records, err := ks.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

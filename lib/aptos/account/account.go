// Package account implements local Aptos accounts. Keys are ed25519 keys whose seed is derived from an HD wallet, so
// a single configured seed yields any number of accounts addressed by wallet, change and id.
package account

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tarancss/hd"
	"golang.org/x/crypto/sha3"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// ed25519 single signature scheme, appended to the public key to derive the authentication key.
const ed25519Scheme byte = 0x00

// Change values of HD wallet addresses.
var (
	External uint8 = hd.External
	Change   uint8 = hd.Change
)

// ErrSeed is returned when a key seed does not have the expected length.
var ErrSeed = errors.New("key seed must be 32 bytes")

// Local is an account whose private key is held in memory.
type Local struct {
	key     ed25519.PrivateKey
	address string
}

// New returns the account of an ed25519 key seed.
func New(seed []byte) (*Local, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrSeed
	}

	key := ed25519.NewKeyFromSeed(seed)

	return &Local{key: key, address: AuthKey(key.Public().(ed25519.PublicKey))}, nil
}

// FromHD returns the account at wallet/change/id of the HD wallet w.
func FromHD(w *hd.HdWallet, wallet uint32, change uint8, id uint32) (*Local, error) {
	_, key, _, err := w.Address(wallet, change, id)
	if err != nil {
		return nil, fmt.Errorf("hd address %d/%d/%d: %w", wallet, change, id, err)
	}
	// keys with leading zero bytes may come trimmed
	if len(key) < ed25519.SeedSize {
		key = append(make([]byte, ed25519.SeedSize-len(key)), key...)
	}

	return New(key)
}

// AuthKey returns the authentication key of a public key, which is also the address of a new account.
func AuthKey(pub ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{ed25519Scheme})

	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Address returns the 0x prefixed address of the account.
func (l *Local) Address() string {
	return l.address
}

// PublicKey returns the 0x prefixed public key of the account.
func (l *Local) PublicKey() string {
	return "0x" + hex.EncodeToString(l.key.Public().(ed25519.PublicKey))
}

// Sign signs message with the private key of the account.
func (l *Local) Sign(message []byte) []byte {
	return ed25519.Sign(l.key, message)
}

// Public returns the account as exposed to applications.
func (l *Local) Public() types.Account {
	return types.Account{Address: l.Address(), PublicKey: l.PublicKey()}
}

package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// AccountPrefix is prepended to the hex-encoded address hash.
const AccountPrefix = "cv1"

// tokenTTL bounds how long a minted gateway token stays valid.
const tokenTTL = 2 * time.Minute

// Identity is the signing identity used for ledger submissions. It holds the
// ed25519 key, the derived account address, and the submission sequence
// counter for that account.
//
// Identity is not safe for concurrent use; the TransactionSubmitter owns it
// and serializes all access under its own lock.
type Identity struct {
	priv    ed25519.PrivateKey
	account string
	seq     uint64
}

// NewIdentity derives an identity from a 32-byte ed25519 seed.
func NewIdentity(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ledger: identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		priv:    priv,
		account: deriveAccount(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// NewIdentityFromHex derives an identity from a hex-encoded seed.
func NewIdentityFromHex(seedHex string) (*Identity, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode identity seed: %w", err)
	}
	return NewIdentity(seed)
}

// deriveAccount hashes the public key with blake2b-256 and keeps the first
// 20 bytes, matching the ledger's address scheme.
func deriveAccount(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(pub)
	return AccountPrefix + hex.EncodeToString(sum[:20])
}

// Account returns the ledger account address of this identity.
func (id *Identity) Account() string { return id.account }

// PublicKey returns the verification key for this identity.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.priv.Public().(ed25519.PublicKey)
}

// Sequence returns the next sequence number to use for a submission.
func (id *Identity) Sequence() uint64 { return id.seq }

// SetSequence resets the counter, typically after querying the ledger for
// the account's current sequence at startup.
func (id *Identity) SetSequence(seq uint64) { id.seq = seq }

// AdvanceSequence consumes the current sequence number after the ledger has
// confirmed a transaction (including a confirmed revert, which still burns
// the sequence).
func (id *Identity) AdvanceSequence() { id.seq++ }

// Sign signs a transaction digest.
func (id *Identity) Sign(digest []byte) []byte {
	return ed25519.Sign(id.priv, digest)
}

// MintToken issues a short-lived EdDSA bearer token for the ledger gateway.
func (id *Identity) MintToken(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": id.account,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(id.priv)
	if err != nil {
		return "", fmt.Errorf("ledger: sign gateway token: %w", err)
	}
	return signed, nil
}

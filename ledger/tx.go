package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Tx is the signed transaction envelope submitted to the ledger gateway.
// Value carries attached funds in base units (payPremium); it is zero for
// every other operation.
type Tx struct {
	Account   string          `json:"account"`
	Sequence  uint64          `json:"sequence"`
	Op        OpName          `json:"op"`
	Args      json.RawMessage `json:"args"`
	Value     int64           `json:"value,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

// SubmitReply is the gateway's response once the transaction has been
// included in the ledger. An error at the transport layer instead of a
// reply means the transaction was never confirmed.
type SubmitReply struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	TxHash string `json:"tx_hash,omitempty"`
	Height int64  `json:"height,omitempty"`
}

const (
	StatusConfirmed = "confirmed"
	StatusReverted  = "reverted"
)

// digest hashes the canonical JSON body of the transaction with the
// signature field cleared.
func (t Tx) digest() ([]byte, error) {
	t.Signature = ""
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal tx body: %w", err)
	}
	sum := blake2b.Sum256(body)
	return sum[:], nil
}

// SignTx computes the digest of tx and sets its signature using id.
func SignTx(id *Identity, tx *Tx) error {
	if tx.Account != id.Account() {
		return fmt.Errorf("ledger: tx account %s does not match identity %s", tx.Account, id.Account())
	}
	digest, err := tx.digest()
	if err != nil {
		return err
	}
	tx.Signature = hex.EncodeToString(id.Sign(digest))
	return nil
}

// VerifyTx checks the transaction signature against the given public key.
func VerifyTx(pub ed25519.PublicKey, tx Tx) bool {
	sig, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return false
	}
	digest, err := tx.digest()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, digest, sig)
}

// TxHash returns the hex digest identifying the signed transaction.
func TxHash(tx Tx) (string, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal tx: %w", err)
	}
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

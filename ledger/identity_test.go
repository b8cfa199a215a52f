package ledger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testSeed() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNewIdentityDeterministicAccount(t *testing.T) {
	a, err := NewIdentity(testSeed())
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	b, err := NewIdentity(testSeed())
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}

	if a.Account() != b.Account() {
		t.Fatalf("same seed produced different accounts: %s vs %s", a.Account(), b.Account())
	}
	if !strings.HasPrefix(a.Account(), AccountPrefix) {
		t.Errorf("account %s missing prefix %s", a.Account(), AccountPrefix)
	}
	// prefix + 20 hash bytes hex-encoded
	if want := len(AccountPrefix) + 40; len(a.Account()) != want {
		t.Errorf("account length %d, want %d", len(a.Account()), want)
	}
}

func TestNewIdentityRejectsBadSeed(t *testing.T) {
	if _, err := NewIdentity([]byte("short")); err == nil {
		t.Fatalf("expected error for short seed")
	}
	if _, err := NewIdentityFromHex("zz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}

func TestSignAndVerifyTx(t *testing.T) {
	id, err := NewIdentity(testSeed())
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}

	args, _ := json.Marshal(CheckAndLapseArgs{PolicyID: 7})
	tx := Tx{Account: id.Account(), Sequence: 3, Op: OpCheckAndLapseCoverage, Args: args}
	if err := SignTx(id, &tx); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if tx.Signature == "" {
		t.Fatalf("signature not set")
	}
	if !VerifyTx(id.PublicKey(), tx) {
		t.Fatalf("signature does not verify")
	}

	tampered := tx
	tampered.Sequence = 4
	if VerifyTx(id.PublicKey(), tampered) {
		t.Fatalf("tampered tx verified")
	}
}

func TestSignTxRejectsForeignAccount(t *testing.T) {
	id, err := NewIdentity(testSeed())
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	tx := Tx{Account: "cv1deadbeef", Op: OpCheckAndLapseCoverage, Args: json.RawMessage(`{}`)}
	if err := SignTx(id, &tx); err == nil {
		t.Fatalf("expected account mismatch error")
	}
}

func TestSequenceAccounting(t *testing.T) {
	id, err := NewIdentity(testSeed())
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	if id.Sequence() != 0 {
		t.Fatalf("fresh identity sequence = %d", id.Sequence())
	}
	id.AdvanceSequence()
	id.AdvanceSequence()
	if id.Sequence() != 2 {
		t.Fatalf("sequence after two advances = %d", id.Sequence())
	}
	id.SetSequence(10)
	if id.Sequence() != 10 {
		t.Fatalf("sequence after set = %d", id.Sequence())
	}
}

func TestMintToken(t *testing.T) {
	id, err := NewIdentity(testSeed())
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := id.MintToken(now)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			t.Fatalf("unexpected signing method %v", token.Header["alg"])
		}
		return id.PublicKey(), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		t.Fatalf("token invalid")
	}
	if sub, _ := claims["sub"].(string); sub != id.Account() {
		t.Fatalf("token sub = %q, want %q", claims["sub"], id.Account())
	}

	// Token expires after its TTL.
	_, err = jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		return id.PublicKey(), nil
	}, jwt.WithTimeFunc(func() time.Time { return now.Add(tokenTTL + time.Second) }))
	if err == nil {
		t.Fatalf("expected expired token error")
	}
}

// Package submit owns the outbound path to the ledger: every state-changing
// call goes through one Submitter bound to one signing identity, so
// submissions never race on the account sequence.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"coversync/ledger"
)

// Receipt describes a confirmed transaction.
type Receipt struct {
	TxHash   string
	Sequence uint64
}

// Sender is the raw submission surface; *ledger.Client satisfies it.
type Sender interface {
	SendTx(ctx context.Context, tx ledger.Tx) (ledger.SubmitReply, error)
}

// Submitter serializes ledger submissions from a single signing identity.
// Concurrent callers queue on the internal lock rather than racing; each
// submission waits for one confirmation before returning.
type Submitter struct {
	sender   Sender
	identity *ledger.Identity
	logger   *log.Logger

	mu sync.Mutex
}

func New(sender Sender, identity *ledger.Identity, logger *log.Logger) *Submitter {
	if logger == nil {
		logger = log.Default()
	}
	return &Submitter{
		sender:   sender,
		identity: identity,
		logger:   logger,
	}
}

// Account returns the submitting account address.
func (s *Submitter) Account() string { return s.identity.Account() }

// Submit signs and submits op with the given args and waits for the
// confirmation outcome. Failures are classified: a *TxError of kind
// TxReverted means the transaction confirmed but the ledger guard rejected
// it (the sequence is consumed, and the logical intent either already holds
// or cannot hold); kind TxNetworkFailure means the transaction was never
// confirmed (the sequence is not consumed, and the same intent is safe to
// re-attempt later).
func (s *Submitter) Submit(ctx context.Context, op ledger.OpName, args any) (Receipt, error) {
	return s.SubmitWithValue(ctx, op, args, 0)
}

// SubmitWithValue is Submit with attached funds in base units (payPremium).
func (s *Submitter) SubmitWithValue(ctx context.Context, op ledger.OpName, args any, value int64) (Receipt, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: marshal %s args: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subID := uuid.NewString()
	tx := ledger.Tx{
		Account:  s.identity.Account(),
		Sequence: s.identity.Sequence(),
		Op:       op,
		Args:     raw,
		Value:    value,
	}
	if err := ledger.SignTx(s.identity, &tx); err != nil {
		return Receipt{}, fmt.Errorf("submit: sign %s: %w", op, err)
	}

	reply, err := s.sender.SendTx(ctx, tx)
	if err != nil {
		s.logger.Printf("submit %s: %s seq=%d not confirmed: %v", subID, op, tx.Sequence, err)
		return Receipt{}, &TxError{Kind: TxNetworkFailure, Op: op, cause: err}
	}

	switch reply.Status {
	case ledger.StatusConfirmed:
		s.identity.AdvanceSequence()
		hash := reply.TxHash
		if hash == "" {
			hash, err = ledger.TxHash(tx)
			if err != nil {
				return Receipt{}, fmt.Errorf("submit: hash %s: %w", op, err)
			}
		}
		s.logger.Printf("submit %s: %s seq=%d confirmed hash=%s", subID, op, tx.Sequence, hash)
		return Receipt{TxHash: hash, Sequence: tx.Sequence}, nil
	case ledger.StatusReverted:
		// A confirmed revert still burns the sequence number.
		s.identity.AdvanceSequence()
		s.logger.Printf("submit %s: %s seq=%d reverted: %s", subID, op, tx.Sequence, reply.Reason)
		return Receipt{}, &TxError{Kind: TxReverted, Op: op, Reason: reply.Reason}
	default:
		s.logger.Printf("submit %s: %s seq=%d unknown status %q", subID, op, tx.Sequence, reply.Status)
		return Receipt{}, &TxError{Kind: TxNetworkFailure, Op: op, Reason: fmt.Sprintf("unknown status %q", reply.Status)}
	}
}

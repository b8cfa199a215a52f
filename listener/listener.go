// Package listener keeps the mirror store converging toward ledger state.
// Each change notification is reduced to an entity id, the canonical state
// is re-read from the ledger, and the result is upserted keyed by that id.
// Nothing else in the notification payload is trusted: redelivered or
// out-of-order notifications produce the same final row.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"coversync/ledger"
	"coversync/mirror"
)

// Reader is the ledger query surface the listener re-reads canonical state from.
type Reader interface {
	GetPolicy(ctx context.Context, id int64) (ledger.Policy, error)
	GetClaim(ctx context.Context, id int64) (ledger.Claim, error)
}

// Store is the mirror write surface.
type Store interface {
	UpsertPolicy(ctx context.Context, row mirror.PolicyRow) error
	UpsertClaim(ctx context.Context, row mirror.ClaimRow) error
}

// Subscriber is the subscription slice of *nats.Conn.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Listener subscribes once per event subject and runs for the process
// lifetime; there is no unsubscribe path. A failed fetch or upsert is logged
// and the subscription keeps processing subsequent notifications.
type Listener struct {
	subs   Subscriber
	reader Reader
	store  Store
	logger *log.Logger

	handleTimeout time.Duration
	now           func() time.Time
}

func New(subs Subscriber, reader Reader, store Store, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{
		subs:          subs,
		reader:        reader,
		store:         store,
		logger:        logger,
		handleTimeout: 30 * time.Second,
		now:           time.Now,
	}
}

// WithClock overrides the sync timestamp clock, for tests.
func (l *Listener) WithClock(now func() time.Time) *Listener {
	l.now = now
	return l
}

// Start subscribes to the claim-filed and policy-lapsed subjects. It returns
// an error only if a subscription cannot be established.
func (l *Listener) Start() error {
	if _, err := l.subs.Subscribe(ledger.SubjectClaimFiled, l.onClaimFiled); err != nil {
		return fmt.Errorf("listener: subscribe %s: %w", ledger.SubjectClaimFiled, err)
	}
	if _, err := l.subs.Subscribe(ledger.SubjectPolicyLapsed, l.onPolicyLapsed); err != nil {
		return fmt.Errorf("listener: subscribe %s: %w", ledger.SubjectPolicyLapsed, err)
	}
	return nil
}

func (l *Listener) onClaimFiled(msg *nats.Msg) {
	var ev ledger.ClaimFiledEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		l.logger.Printf("listener: decode claim.filed payload: %v", err)
		return
	}
	if ev.ClaimID <= 0 {
		l.logger.Printf("listener: claim.filed without claim id, dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.handleTimeout)
	defer cancel()

	if err := l.HandleClaimFiled(ctx, ev.ClaimID); err != nil {
		l.logger.Printf("listener: claim %d: %v", ev.ClaimID, err)
	}
}

func (l *Listener) onPolicyLapsed(msg *nats.Msg) {
	var ev ledger.PolicyLapsedEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		l.logger.Printf("listener: decode policy.lapsed payload: %v", err)
		return
	}
	if ev.PolicyID <= 0 {
		l.logger.Printf("listener: policy.lapsed without policy id, dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.handleTimeout)
	defer cancel()

	if err := l.HandlePolicyLapsed(ctx, ev.PolicyID); err != nil {
		l.logger.Printf("listener: policy %d: %v", ev.PolicyID, err)
	}
}

// HandleClaimFiled re-reads the claim and upserts it, then refreshes the
// parent policy row, whose claim list and utilization change with the claim.
func (l *Listener) HandleClaimFiled(ctx context.Context, claimID int64) error {
	claim, err := l.reader.GetClaim(ctx, claimID)
	if err != nil {
		return fmt.Errorf("fetch claim: %w", err)
	}
	if err := l.store.UpsertClaim(ctx, mirror.ClaimRowFromLedger(claim, l.now())); err != nil {
		return fmt.Errorf("upsert claim: %w", err)
	}

	return l.refreshPolicy(ctx, claim.PolicyID)
}

// HandlePolicyLapsed re-reads the policy and upserts it.
func (l *Listener) HandlePolicyLapsed(ctx context.Context, policyID int64) error {
	return l.refreshPolicy(ctx, policyID)
}

func (l *Listener) refreshPolicy(ctx context.Context, policyID int64) error {
	policy, err := l.reader.GetPolicy(ctx, policyID)
	if err != nil {
		return fmt.Errorf("fetch policy: %w", err)
	}
	if err := l.store.UpsertPolicy(ctx, mirror.PolicyRowFromLedger(policy, l.now())); err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// Package ledgertest provides an in-memory ledger implementing the policy
// and claim state machines, for exercising the sync layer without a real
// ledger. It satisfies both the query surface and the transaction surface
// consumed by the production code.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coversync/ledger"
)

// PaymentPeriod is how far one premium payment pushes the next payment date.
const PaymentPeriod = 30 * 24 * time.Hour

// Ledger is an in-memory ledger. Guard rejections are reported the way the
// gateway reports them: SendTx returns a reverted reply, and the direct
// methods return a *Revert.
type Ledger struct {
	mu         sync.Mutex
	policies   map[int64]*ledger.Policy
	claims     map[int64]*ledger.Claim
	balances   map[string]int64
	seqs       map[string]uint64
	nextPolicy int64
	nextClaim  int64
	privileged string
	now        func() time.Time

	transferErr error
	networkErr  error
	events      []any
}

// Revert is a guard rejection; the attempted state change did not occur.
type Revert struct {
	Reason string
}

func (r *Revert) Error() string { return "ledgertest: reverted: " + r.Reason }

func revert(format string, args ...any) error {
	return &Revert{Reason: fmt.Sprintf(format, args...)}
}

// New builds a ledger whose privileged account is the given address.
func New(privileged string) *Ledger {
	return &Ledger{
		policies:   make(map[int64]*ledger.Policy),
		claims:     make(map[int64]*ledger.Claim),
		balances:   make(map[string]int64),
		seqs:       make(map[string]uint64),
		nextPolicy: 1,
		nextClaim:  1,
		privileged: privileged,
		now:        time.Now,
	}
}

// SetClock fixes the ledger clock.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// FailTransfers makes every approveClaim fund transfer fail with err until
// called again with nil.
func (l *Ledger) FailTransfers(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transferErr = err
}

// FailNetwork makes SendTx fail at the transport layer with err until called
// again with nil. No transaction is confirmed while set.
func (l *Ledger) FailNetwork(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.networkErr = err
}

// Balance returns the account's fund balance in base units.
func (l *Ledger) Balance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Events returns every notification the ledger emitted, in order.
func (l *Ledger) Events() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]any, len(l.events))
	copy(out, l.events)
	return out
}

// CreatePolicy opens a policy for the holder. Guards: coverage>0, premium>0.
func (l *Ledger) CreatePolicy(holder string, coverage, premium int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createPolicy(holder, coverage, premium)
}

func (l *Ledger) createPolicy(holder string, coverage, premium int64) (int64, error) {
	if coverage <= 0 {
		return 0, revert("coverage must be positive")
	}
	if premium <= 0 {
		return 0, revert("premium must be positive")
	}
	now := l.now()
	id := l.nextPolicy
	l.nextPolicy++
	l.policies[id] = &ledger.Policy{
		ID:              id,
		Policyholder:    holder,
		Coverage:        coverage,
		Premium:         premium,
		StartDate:       now,
		EndDate:         now.AddDate(1, 0, 0),
		NextPaymentDate: now.Add(PaymentPeriod),
		Status:          ledger.PolicyActive,
		ClaimIDs:        []int64{},
	}
	return id, nil
}

// PayPremium pays one period. Guards: caller is the policyholder, value
// equals the premium.
func (l *Ledger) PayPremium(caller string, policyID, value int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payPremium(caller, policyID, value)
}

func (l *Ledger) payPremium(caller string, policyID, value int64) error {
	p, ok := l.policies[policyID]
	if !ok {
		return revert("policy %d not found", policyID)
	}
	if caller != p.Policyholder {
		return revert("caller is not the policyholder")
	}
	if value != p.Premium {
		return revert("value %d does not equal premium %d", value, p.Premium)
	}
	p.TotalPaid += value
	p.NextPaymentDate = p.NextPaymentDate.Add(PaymentPeriod)
	return nil
}

// FileClaim files a claim. Guards: caller is the policyholder, amount>0,
// amount does not exceed total coverage. The cumulative cap across approved
// claims is enforced at approval, not here.
func (l *Ledger) FileClaim(caller string, policyID, amount int64, description string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileClaim(caller, policyID, amount, description)
}

func (l *Ledger) fileClaim(caller string, policyID, amount int64, description string) (int64, error) {
	p, ok := l.policies[policyID]
	if !ok {
		return 0, revert("policy %d not found", policyID)
	}
	if caller != p.Policyholder {
		return 0, revert("caller is not the policyholder")
	}
	if amount <= 0 {
		return 0, revert("amount must be positive")
	}
	if amount > p.Coverage {
		return 0, revert("amount %d exceeds coverage %d", amount, p.Coverage)
	}
	id := l.nextClaim
	l.nextClaim++
	l.claims[id] = &ledger.Claim{
		ID:          id,
		PolicyID:    policyID,
		Claimant:    caller,
		Amount:      amount,
		Status:      ledger.ClaimFiled,
		Description: description,
		FiledAt:     l.now(),
	}
	p.ClaimIDs = append(p.ClaimIDs, id)
	l.events = append(l.events, ledger.ClaimFiledEvent{ClaimID: id, PolicyID: policyID, Amount: amount})
	return id, nil
}

// ApproveClaim approves a filed claim and transfers the amount to the
// policyholder atomically: if the transfer fails, the status change rolls
// back with it. Guards: caller is privileged, claim not already approved,
// cumulative approved amounts stay within coverage.
func (l *Ledger) ApproveClaim(caller string, claimID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.approveClaim(caller, claimID)
}

func (l *Ledger) approveClaim(caller string, claimID int64) error {
	if caller != l.privileged {
		return revert("caller is not privileged")
	}
	c, ok := l.claims[claimID]
	if !ok {
		return revert("claim %d not found", claimID)
	}
	if c.Status == ledger.ClaimApproved {
		return revert("claim %d already approved", claimID)
	}
	p, ok := l.policies[c.PolicyID]
	if !ok {
		return revert("policy %d not found", c.PolicyID)
	}
	if p.ApprovedTotal+c.Amount > p.Coverage {
		return revert("approved total %d would exceed coverage %d", p.ApprovedTotal+c.Amount, p.Coverage)
	}
	if l.transferErr != nil {
		// Transfer failed: the whole transition rolls back, nothing below runs.
		return revert("transfer failed: %v", l.transferErr)
	}
	l.balances[p.Policyholder] += c.Amount
	now := l.now()
	c.Status = ledger.ClaimApproved
	c.ResolvedAt = &now
	p.ApprovedTotal += c.Amount
	return nil
}

// CheckAndLapse lapses a policy. Guards: status active, now past the next
// payment date.
func (l *Ledger) CheckAndLapse(policyID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkAndLapse(policyID)
}

func (l *Ledger) checkAndLapse(policyID int64) error {
	p, ok := l.policies[policyID]
	if !ok {
		return revert("policy %d not found", policyID)
	}
	if p.Status != ledger.PolicyActive {
		return revert("policy %d is not active", policyID)
	}
	if !l.now().After(p.NextPaymentDate) {
		return revert("policy %d is not overdue", policyID)
	}
	p.Status = ledger.PolicyLapsed
	l.events = append(l.events, ledger.PolicyLapsedEvent{PolicyID: policyID})
	return nil
}

// GetPolicy implements the ledger query surface. Returned values are copies.
func (l *Ledger) GetPolicy(_ context.Context, id int64) (ledger.Policy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.policies[id]
	if !ok {
		return ledger.Policy{}, ledger.ErrNotFound
	}
	out := *p
	out.ClaimIDs = append([]int64(nil), p.ClaimIDs...)
	return out, nil
}

// GetClaim implements the ledger query surface.
func (l *Ledger) GetClaim(_ context.Context, id int64) (ledger.Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[id]
	if !ok {
		return ledger.Claim{}, ledger.ErrNotFound
	}
	out := *c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return out, nil
}

// SendTx implements the transaction surface: it checks the account sequence,
// dispatches the operation, and reports guard rejections as reverted
// replies. Both confirmed and reverted outcomes consume the sequence.
func (l *Ledger) SendTx(_ context.Context, tx ledger.Tx) (ledger.SubmitReply, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.networkErr != nil {
		return ledger.SubmitReply{}, l.networkErr
	}
	if tx.Sequence != l.seqs[tx.Account] {
		return ledger.SubmitReply{Status: ledger.StatusReverted,
			Reason: fmt.Sprintf("bad sequence %d, want %d", tx.Sequence, l.seqs[tx.Account])}, nil
	}
	l.seqs[tx.Account]++

	if err := l.apply(tx); err != nil {
		if rev, ok := err.(*Revert); ok {
			return ledger.SubmitReply{Status: ledger.StatusReverted, Reason: rev.Reason}, nil
		}
		return ledger.SubmitReply{}, err
	}
	hash, err := ledger.TxHash(tx)
	if err != nil {
		return ledger.SubmitReply{}, err
	}
	return ledger.SubmitReply{Status: ledger.StatusConfirmed, TxHash: hash}, nil
}

func (l *Ledger) apply(tx ledger.Tx) error {
	switch tx.Op {
	case ledger.OpCreatePolicy:
		var args ledger.CreatePolicyArgs
		if err := json.Unmarshal(tx.Args, &args); err != nil {
			return revert("bad createPolicy args: %v", err)
		}
		holder := args.Policyholder
		if holder == "" {
			holder = tx.Account
		}
		_, err := l.createPolicy(holder, args.Coverage, args.Premium)
		return err
	case ledger.OpPayPremium:
		var args ledger.PayPremiumArgs
		if err := json.Unmarshal(tx.Args, &args); err != nil {
			return revert("bad payPremium args: %v", err)
		}
		return l.payPremium(tx.Account, args.PolicyID, tx.Value)
	case ledger.OpFileClaim:
		var args ledger.FileClaimArgs
		if err := json.Unmarshal(tx.Args, &args); err != nil {
			return revert("bad fileClaim args: %v", err)
		}
		_, err := l.fileClaim(tx.Account, args.PolicyID, args.Amount, args.Description)
		return err
	case ledger.OpApproveClaim:
		var args ledger.ApproveClaimArgs
		if err := json.Unmarshal(tx.Args, &args); err != nil {
			return revert("bad approveClaim args: %v", err)
		}
		return l.approveClaim(tx.Account, args.ClaimID)
	case ledger.OpCheckAndLapseCoverage:
		var args ledger.CheckAndLapseArgs
		if err := json.Unmarshal(tx.Args, &args); err != nil {
			return revert("bad checkAndLapseCoverage args: %v", err)
		}
		return l.checkAndLapse(args.PolicyID)
	default:
		return revert("unknown op %q", tx.Op)
	}
}

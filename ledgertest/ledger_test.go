package ledgertest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coversync/ledger"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

const (
	privileged = "cv1insurer"
	holder     = "cv1holder"
)

func fixedTime() time.Time {
	return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestLedger() *Ledger {
	l := New(privileged)
	l.SetClock(fixedTime)
	return l
}

func mustUnits(t *testing.T, s string) int64 {
	t.Helper()
	v, err := ledger.ToBaseUnits(decimal.RequireFromString(s))
	if err != nil {
		t.Fatalf("to base units %s: %v", s, err)
	}
	return v
}

func isRevert(err error, substr string) bool {
	var rev *Revert
	return errors.As(err, &rev) && strings.Contains(rev.Reason, substr)
}

func TestCreatePolicyGuards(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreatePolicy(holder, 0, 10); !isRevert(err, "coverage") {
		t.Fatalf("zero coverage: %v", err)
	}
	if _, err := l.CreatePolicy(holder, 100, 0); !isRevert(err, "premium") {
		t.Fatalf("zero premium: %v", err)
	}

	id, err := l.CreatePolicy(holder, 100, 10)
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	p, err := l.GetPolicy(context.Background(), id)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if p.Status != ledger.PolicyActive || !p.NextPaymentDate.Equal(fixedTime().Add(PaymentPeriod)) {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestPayPremiumGuards(t *testing.T) {
	l := newTestLedger()
	id, _ := l.CreatePolicy(holder, 100, 10)

	if err := l.PayPremium("cv1stranger", id, 10); !isRevert(err, "policyholder") {
		t.Fatalf("stranger payment: %v", err)
	}
	if err := l.PayPremium(holder, id, 9); !isRevert(err, "premium") {
		t.Fatalf("short payment: %v", err)
	}

	before, _ := l.GetPolicy(context.Background(), id)
	if err := l.PayPremium(holder, id, 10); err != nil {
		t.Fatalf("pay premium: %v", err)
	}
	after, _ := l.GetPolicy(context.Background(), id)
	if after.TotalPaid != 10 {
		t.Errorf("total paid = %d", after.TotalPaid)
	}
	if !after.NextPaymentDate.Equal(before.NextPaymentDate.Add(PaymentPeriod)) {
		t.Errorf("next payment date not advanced one period")
	}
}

func TestFileClaimGuards(t *testing.T) {
	l := newTestLedger()
	id, _ := l.CreatePolicy(holder, 100, 10)

	if _, err := l.FileClaim("cv1stranger", id, 50, ""); !isRevert(err, "policyholder") {
		t.Fatalf("stranger claim: %v", err)
	}
	if _, err := l.FileClaim(holder, id, 0, ""); !isRevert(err, "positive") {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := l.FileClaim(holder, id, 101, ""); !isRevert(err, "coverage") {
		t.Fatalf("over-coverage claim: %v", err)
	}

	claimID, err := l.FileClaim(holder, id, 50, "water damage")
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	c, err := l.GetClaim(context.Background(), claimID)
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if c.Status != ledger.ClaimFiled || c.Amount != 50 || c.PolicyID != id {
		t.Fatalf("unexpected claim %+v", c)
	}
}

func TestApproveClaimAtomicity(t *testing.T) {
	l := newTestLedger()
	id, _ := l.CreatePolicy(holder, 100, 10)
	claimID, _ := l.FileClaim(holder, id, 50, "")

	l.FailTransfers(errors.New("insufficient reserve"))
	if err := l.ApproveClaim(privileged, claimID); !isRevert(err, "transfer failed") {
		t.Fatalf("expected transfer revert, got %v", err)
	}

	// The whole transition rolled back: status unchanged, no funds moved.
	c, _ := l.GetClaim(context.Background(), claimID)
	if c.Status != ledger.ClaimFiled || c.ResolvedAt != nil {
		t.Fatalf("partial approval observable: %+v", c)
	}
	if bal := l.Balance(holder); bal != 0 {
		t.Fatalf("funds moved on failed transfer: %d", bal)
	}
	p, _ := l.GetPolicy(context.Background(), id)
	if p.ApprovedTotal != 0 {
		t.Fatalf("approved total advanced on failed transfer: %d", p.ApprovedTotal)
	}

	l.FailTransfers(nil)
	if err := l.ApproveClaim(privileged, claimID); err != nil {
		t.Fatalf("approve after transfer recovery: %v", err)
	}
	if bal := l.Balance(holder); bal != 50 {
		t.Fatalf("balance after approval = %d", bal)
	}
}

func TestApproveClaimGuards(t *testing.T) {
	l := newTestLedger()
	id, _ := l.CreatePolicy(holder, 100, 10)
	claimID, _ := l.FileClaim(holder, id, 50, "")

	if err := l.ApproveClaim(holder, claimID); !isRevert(err, "privileged") {
		t.Fatalf("unprivileged approval: %v", err)
	}
	if err := l.ApproveClaim(privileged, claimID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.ApproveClaim(privileged, claimID); !isRevert(err, "already approved") {
		t.Fatalf("second approval: %v", err)
	}
	if bal := l.Balance(holder); bal != 50 {
		t.Fatalf("second approval moved funds: %d", bal)
	}
}

func TestCoverageInvariantAcrossClaims(t *testing.T) {
	l := newTestLedger()
	id, _ := l.CreatePolicy(holder, 100, 10)

	// Filing past the remaining headroom is allowed (single-claim cap only)...
	c1, _ := l.FileClaim(holder, id, 80, "")
	c2, _ := l.FileClaim(holder, id, 80, "")

	if err := l.ApproveClaim(privileged, c1); err != nil {
		t.Fatalf("approve first: %v", err)
	}
	// ...but approval enforces the cumulative cap.
	if err := l.ApproveClaim(privileged, c2); !isRevert(err, "coverage") {
		t.Fatalf("expected cumulative cap revert, got %v", err)
	}

	p, _ := l.GetPolicy(context.Background(), id)
	if p.ApprovedTotal > p.Coverage {
		t.Fatalf("approved total %d exceeds coverage %d", p.ApprovedTotal, p.Coverage)
	}
}

func TestLapseGuard(t *testing.T) {
	l := newTestLedger()
	id, _ := l.CreatePolicy(holder, 100, 10)

	// Not yet overdue: the guard rejects and status is unchanged.
	if err := l.CheckAndLapse(id); !isRevert(err, "overdue") {
		t.Fatalf("premature lapse: %v", err)
	}
	p, _ := l.GetPolicy(context.Background(), id)
	if p.Status != ledger.PolicyActive {
		t.Fatalf("status changed by rejected lapse: %s", p.Status)
	}

	l.SetClock(func() time.Time { return fixedTime().Add(PaymentPeriod + 24*time.Hour) })
	if err := l.CheckAndLapse(id); err != nil {
		t.Fatalf("lapse overdue policy: %v", err)
	}
	p, _ = l.GetPolicy(context.Background(), id)
	if p.Status != ledger.PolicyLapsed {
		t.Fatalf("status after lapse = %s", p.Status)
	}

	// No reverse transition; a second lapse reverts.
	if err := l.CheckAndLapse(id); !isRevert(err, "not active") {
		t.Fatalf("second lapse: %v", err)
	}
}

// TestPolicyScenario walks a full policy lifecycle: coverage 10,
// premium 0.1, one paid period, a 1-unit claim approved once.
func TestPolicyScenario(t *testing.T) {
	l := newTestLedger()

	coverage := mustUnits(t, "10")
	premium := mustUnits(t, "0.1")
	claimAmt := mustUnits(t, "1")

	id, err := l.CreatePolicy(holder, coverage, premium)
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	if err := l.PayPremium(holder, id, premium); err != nil {
		t.Fatalf("pay premium: %v", err)
	}

	claimID, err := l.FileClaim(holder, id, claimAmt, "windshield")
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	c, _ := l.GetClaim(context.Background(), claimID)
	if c.Status != ledger.ClaimFiled || c.Amount != claimAmt {
		t.Fatalf("filed claim %+v", c)
	}

	if err := l.ApproveClaim(privileged, claimID); err != nil {
		t.Fatalf("approve claim: %v", err)
	}
	if got := ledger.FromBaseUnits(l.Balance(holder)); !got.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("holder balance = %s, want 1", got)
	}

	if err := l.ApproveClaim(privileged, claimID); !isRevert(err, "already approved") {
		t.Fatalf("re-approval: %v", err)
	}
	c, _ = l.GetClaim(context.Background(), claimID)
	if c.Status != ledger.ClaimApproved {
		t.Fatalf("claim status after re-approval attempt = %s", c.Status)
	}

	events := l.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 claim.filed", len(events))
	}
	ev, ok := events[0].(ledger.ClaimFiledEvent)
	if !ok || ev.ClaimID != claimID || ev.PolicyID != id {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestSendTxDispatchAndSequence(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	id, err := ledger.NewIdentityFromHex(strings.Repeat("07", 32))
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}

	sendOK := func(op ledger.OpName, args any, value int64) ledger.SubmitReply {
		t.Helper()
		raw := mustJSON(t, args)
		tx := ledger.Tx{Account: id.Account(), Sequence: id.Sequence(), Op: op, Args: raw, Value: value}
		if err := ledger.SignTx(id, &tx); err != nil {
			t.Fatalf("sign: %v", err)
		}
		reply, err := l.SendTx(ctx, tx)
		if err != nil {
			t.Fatalf("send %s: %v", op, err)
		}
		id.AdvanceSequence()
		return reply
	}

	reply := sendOK(ledger.OpCreatePolicy, ledger.CreatePolicyArgs{Coverage: 100, Premium: 10}, 0)
	if reply.Status != ledger.StatusConfirmed {
		t.Fatalf("create reply %+v", reply)
	}

	p, err := l.GetPolicy(ctx, 1)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if p.Policyholder != id.Account() {
		t.Fatalf("policyholder defaulted to %s", p.Policyholder)
	}

	reply = sendOK(ledger.OpPayPremium, ledger.PayPremiumArgs{PolicyID: 1}, 10)
	if reply.Status != ledger.StatusConfirmed {
		t.Fatalf("pay reply %+v", reply)
	}

	// Replaying a consumed sequence reverts.
	raw := mustJSON(t, ledger.PayPremiumArgs{PolicyID: 1})
	stale := ledger.Tx{Account: id.Account(), Sequence: 0, Op: ledger.OpPayPremium, Args: raw, Value: 10}
	if err := ledger.SignTx(id, &stale); err != nil {
		t.Fatalf("sign: %v", err)
	}
	reply, err = l.SendTx(ctx, stale)
	if err != nil {
		t.Fatalf("send stale: %v", err)
	}
	if reply.Status != ledger.StatusReverted || !strings.Contains(reply.Reason, "sequence") {
		t.Fatalf("stale sequence reply %+v", reply)
	}
}

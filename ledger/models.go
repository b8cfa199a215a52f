package ledger

import "time"

// PolicyStatus enumerates the on-ledger lifecycle states of a policy.
type PolicyStatus string

const (
	PolicyActive PolicyStatus = "active"
	PolicyLapsed PolicyStatus = "lapsed"
)

// ClaimStatus enumerates the on-ledger lifecycle states of a claim.
type ClaimStatus string

const (
	ClaimFiled    ClaimStatus = "filed"
	ClaimApproved ClaimStatus = "approved"
)

// Policy is the canonical ledger view of an insurance policy. All monetary
// fields are integers in ledger base units.
type Policy struct {
	ID              int64        `json:"id"`
	Policyholder    string       `json:"policyholder"`
	Coverage        int64        `json:"coverage"`
	Premium         int64        `json:"premium"`
	StartDate       time.Time    `json:"start_date"`
	EndDate         time.Time    `json:"end_date"`
	NextPaymentDate time.Time    `json:"next_payment_date"`
	Status          PolicyStatus `json:"status"`
	ClaimIDs        []int64      `json:"claim_ids"`
	TotalPaid       int64        `json:"total_paid"`
	ApprovedTotal   int64        `json:"approved_total"`
}

// Claim is the canonical ledger view of a claim against a policy.
type Claim struct {
	ID          int64       `json:"id"`
	PolicyID    int64       `json:"policy_id"`
	Claimant    string      `json:"claimant"`
	Amount      int64       `json:"amount"`
	Status      ClaimStatus `json:"status"`
	Description string      `json:"description"`
	FiledAt     time.Time   `json:"filed_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// OpName identifies a state-changing ledger operation.
type OpName string

const (
	OpCreatePolicy          OpName = "createPolicy"
	OpPayPremium            OpName = "payPremium"
	OpFileClaim             OpName = "fileClaim"
	OpApproveClaim          OpName = "approveClaim"
	OpCheckAndLapseCoverage OpName = "checkAndLapseCoverage"
)

// CreatePolicyArgs opens a new policy for the caller.
type CreatePolicyArgs struct {
	Policyholder string `json:"policyholder"`
	Coverage     int64  `json:"coverage"`
	Premium      int64  `json:"premium"`
}

// PayPremiumArgs pays one premium period; the transaction value must equal
// the policy premium.
type PayPremiumArgs struct {
	PolicyID int64 `json:"policy_id"`
}

// FileClaimArgs files a claim by the policyholder.
type FileClaimArgs struct {
	PolicyID    int64  `json:"policy_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// ApproveClaimArgs approves a filed claim; privileged accounts only.
type ApproveClaimArgs struct {
	ClaimID int64 `json:"claim_id"`
}

// CheckAndLapseArgs lapses a policy whose payment is overdue.
type CheckAndLapseArgs struct {
	PolicyID int64 `json:"policy_id"`
}

// NATS subjects exposed by the ledger gateway.
const (
	SubjectQueryPolicy = "ledger.query.policy"
	SubjectQueryClaim  = "ledger.query.claim"
	SubjectSubmitTx    = "ledger.tx.submit"

	SubjectClaimFiled   = "ledger.events.claim.filed"
	SubjectPolicyLapsed = "ledger.events.policy.lapsed"
)

// ClaimFiledEvent is the notification published when a claim is filed.
// Consumers treat everything except the claim id as a hint: the payload may
// be redelivered or arrive out of order, so canonical state is always
// re-read from the ledger.
type ClaimFiledEvent struct {
	ClaimID  int64 `json:"claim_id"`
	PolicyID int64 `json:"policy_id"`
	Amount   int64 `json:"amount"`
}

// PolicyLapsedEvent is the notification published when a policy lapses.
type PolicyLapsedEvent struct {
	PolicyID int64 `json:"policy_id"`
}

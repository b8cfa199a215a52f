package mirror

import (
	"time"

	"github.com/shopspring/decimal"

	"coversync/ledger"
)

// PolicyRow mirrors the policies table: the ledger replica fields plus the
// off-chain annotations (synced_at, notes). Notes are never touched by sync
// writes.
type PolicyRow struct {
	ID              int64
	Policyholder    string
	Coverage        int64
	Premium         int64
	StartDate       time.Time
	EndDate         time.Time
	NextPaymentDate time.Time
	Status          ledger.PolicyStatus
	ClaimIDs        []int64
	TotalPaid       int64
	UtilizationRate decimal.Decimal
	SyncedAt        time.Time
	Notes           *string
}

// ClaimRow mirrors the claims table.
type ClaimRow struct {
	ID          int64
	PolicyID    int64
	Claimant    string
	Amount      int64
	Status      ledger.ClaimStatus
	Description string
	FiledAt     time.Time
	ResolvedAt  *time.Time
	SyncedAt    time.Time
}

// PolicyRowFromLedger maps a canonical ledger policy to its mirror row.
func PolicyRowFromLedger(p ledger.Policy, syncedAt time.Time) PolicyRow {
	return PolicyRow{
		ID:              p.ID,
		Policyholder:    p.Policyholder,
		Coverage:        p.Coverage,
		Premium:         p.Premium,
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		NextPaymentDate: p.NextPaymentDate,
		Status:          p.Status,
		ClaimIDs:        p.ClaimIDs,
		TotalPaid:       p.TotalPaid,
		UtilizationRate: ledger.UtilizationRate(p.ApprovedTotal, p.Coverage),
		SyncedAt:        syncedAt,
	}
}

// ClaimRowFromLedger maps a canonical ledger claim to its mirror row.
func ClaimRowFromLedger(c ledger.Claim, syncedAt time.Time) ClaimRow {
	return ClaimRow{
		ID:          c.ID,
		PolicyID:    c.PolicyID,
		Claimant:    c.Claimant,
		Amount:      c.Amount,
		Status:      c.Status,
		Description: c.Description,
		FiledAt:     c.FiledAt,
		ResolvedAt:  c.ResolvedAt,
		SyncedAt:    syncedAt,
	}
}

// PolicyFilter narrows ListPolicies.
type PolicyFilter struct {
	Status       ledger.PolicyStatus
	Policyholder string
}

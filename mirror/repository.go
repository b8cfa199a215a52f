package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"coversync/ledger"
)

var (
	// ErrPolicyNotFound is returned when no mirror row exists for the policy id.
	ErrPolicyNotFound = errors.New("mirror: policy not found")
	// ErrClaimNotFound is returned when no mirror row exists for the claim id.
	ErrClaimNotFound = errors.New("mirror: claim not found")
)

// Repository reads and writes the mirror store. Every write is an idempotent
// upsert keyed by the ledger-assigned entity id, so concurrent writers and
// redelivered notifications converge to the same row without coordination.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, policyholder, coverage, premium, start_date, end_date,
	next_payment_date, status, claim_ids, total_paid, utilization_rate::text, synced_at, notes`

// UpsertPolicy writes the replica fields keyed by policy id. The notes
// annotation is deliberately excluded from the update set.
func (r *Repository) UpsertPolicy(ctx context.Context, row PolicyRow) error {
	const query = `
INSERT INTO policies (id, policyholder, coverage, premium, start_date, end_date,
	next_payment_date, status, claim_ids, total_paid, utilization_rate, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12)
ON CONFLICT (id) DO UPDATE SET
	policyholder      = EXCLUDED.policyholder,
	coverage          = EXCLUDED.coverage,
	premium           = EXCLUDED.premium,
	start_date        = EXCLUDED.start_date,
	end_date          = EXCLUDED.end_date,
	next_payment_date = EXCLUDED.next_payment_date,
	status            = EXCLUDED.status,
	claim_ids         = EXCLUDED.claim_ids,
	total_paid        = EXCLUDED.total_paid,
	utilization_rate  = EXCLUDED.utilization_rate,
	synced_at         = EXCLUDED.synced_at;
`
	_, err := r.pool.Exec(ctx, query,
		row.ID, row.Policyholder, row.Coverage, row.Premium, row.StartDate, row.EndDate,
		row.NextPaymentDate, string(row.Status), row.ClaimIDs, row.TotalPaid,
		row.UtilizationRate.String(), row.SyncedAt)
	if err != nil {
		return fmt.Errorf("mirror: upsert policy %d: %w", row.ID, err)
	}
	return nil
}

// UpsertClaim writes the replica fields keyed by claim id.
func (r *Repository) UpsertClaim(ctx context.Context, row ClaimRow) error {
	const query = `
INSERT INTO claims (id, policy_id, claimant, amount, status, description, filed_at, resolved_at, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	policy_id   = EXCLUDED.policy_id,
	claimant    = EXCLUDED.claimant,
	amount      = EXCLUDED.amount,
	status      = EXCLUDED.status,
	description = EXCLUDED.description,
	filed_at    = EXCLUDED.filed_at,
	resolved_at = EXCLUDED.resolved_at,
	synced_at   = EXCLUDED.synced_at;
`
	_, err := r.pool.Exec(ctx, query,
		row.ID, row.PolicyID, row.Claimant, row.Amount, string(row.Status),
		row.Description, row.FiledAt, row.ResolvedAt, row.SyncedAt)
	if err != nil {
		return fmt.Errorf("mirror: upsert claim %d: %w", row.ID, err)
	}
	return nil
}

// ListOverduePolicies returns every active policy whose next payment date is
// before now. The result is unbounded: the lapse scan must see the whole
// overdue set.
func (r *Repository) ListOverduePolicies(ctx context.Context, now time.Time) ([]PolicyRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM policies WHERE status = 'active' AND next_payment_date < $1 ORDER BY id`, policyColumns)

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("mirror: list overdue policies: %w", err)
	}
	defer rows.Close()

	return scanPolicyRows(rows)
}

// ListPolicies returns policies matching the filter, newest first.
func (r *Repository) ListPolicies(ctx context.Context, f PolicyFilter) ([]PolicyRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM policies WHERE ($1 = '' OR status = $1) AND ($2 = '' OR policyholder = $2) ORDER BY id DESC`, policyColumns)

	rows, err := r.pool.Query(ctx, query, string(f.Status), f.Policyholder)
	if err != nil {
		return nil, fmt.Errorf("mirror: list policies: %w", err)
	}
	defer rows.Close()

	return scanPolicyRows(rows)
}

func (r *Repository) GetPolicy(ctx context.Context, id int64) (PolicyRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM policies WHERE id = $1`, policyColumns)

	row, err := scanPolicy(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PolicyRow{}, ErrPolicyNotFound
		}
		return PolicyRow{}, fmt.Errorf("mirror: get policy %d: %w", id, err)
	}
	return row, nil
}

func (r *Repository) GetClaim(ctx context.Context, id int64) (ClaimRow, error) {
	const query = `
SELECT id, policy_id, claimant, amount, status, description, filed_at, resolved_at, synced_at
FROM claims WHERE id = $1`

	var c ClaimRow
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.PolicyID, &c.Claimant, &c.Amount, &status,
		&c.Description, &c.FiledAt, &c.ResolvedAt, &c.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClaimRow{}, ErrClaimNotFound
		}
		return ClaimRow{}, fmt.Errorf("mirror: get claim %d: %w", id, err)
	}
	c.Status = ledger.ClaimStatus(status)
	return c, nil
}

// ListClaimsByPolicy returns every mirrored claim for a policy, oldest first.
func (r *Repository) ListClaimsByPolicy(ctx context.Context, policyID int64) ([]ClaimRow, error) {
	const query = `
SELECT id, policy_id, claimant, amount, status, description, filed_at, resolved_at, synced_at
FROM claims WHERE policy_id = $1 ORDER BY id`

	rows, err := r.pool.Query(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list claims for policy %d: %w", policyID, err)
	}
	defer rows.Close()

	claims := make([]ClaimRow, 0, 8)
	for rows.Next() {
		var c ClaimRow
		var status string
		if err := rows.Scan(&c.ID, &c.PolicyID, &c.Claimant, &c.Amount, &status,
			&c.Description, &c.FiledAt, &c.ResolvedAt, &c.SyncedAt); err != nil {
			return nil, fmt.Errorf("mirror: scan claim: %w", err)
		}
		c.Status = ledger.ClaimStatus(status)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterate claims: %w", err)
	}
	return claims, nil
}

// SetPolicyNotes updates the off-chain annotation without touching replica fields.
func (r *Repository) SetPolicyNotes(ctx context.Context, id int64, notes *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE policies SET notes = $2 WHERE id = $1`, id, notes)
	if err != nil {
		return fmt.Errorf("mirror: set policy %d notes: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (PolicyRow, error) {
	var p PolicyRow
	var status, utilization string
	if err := row.Scan(&p.ID, &p.Policyholder, &p.Coverage, &p.Premium, &p.StartDate, &p.EndDate,
		&p.NextPaymentDate, &status, &p.ClaimIDs, &p.TotalPaid, &utilization, &p.SyncedAt, &p.Notes); err != nil {
		return PolicyRow{}, err
	}
	rate, err := decimal.NewFromString(utilization)
	if err != nil {
		return PolicyRow{}, fmt.Errorf("parse utilization rate %q: %w", utilization, err)
	}
	p.Status = ledger.PolicyStatus(status)
	p.UtilizationRate = rate
	return p, nil
}

func scanPolicyRows(rows pgx.Rows) ([]PolicyRow, error) {
	policies := make([]PolicyRow, 0, 16)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("mirror: scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterate policies: %w", err)
	}
	return policies, nil
}

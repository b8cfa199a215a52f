// Package scheduler enforces premium lapsing on a fixed cadence: scan the
// mirror for overdue active policies and drive each one through the ledger's
// checkAndLapseCoverage guard, one outcome per policy.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"coversync/ledger"
	"coversync/mirror"
	"coversync/submit"
)

// ErrRunInProgress is returned when a run is requested while the previous
// one is still executing.
var ErrRunInProgress = errors.New("scheduler: run already in progress")

// Store is the mirror surface the scheduler scans and refreshes.
type Store interface {
	ListOverduePolicies(ctx context.Context, now time.Time) ([]mirror.PolicyRow, error)
	UpsertPolicy(ctx context.Context, row mirror.PolicyRow) error
}

// TxSubmitter drives state-changing ledger calls.
type TxSubmitter interface {
	Submit(ctx context.Context, op ledger.OpName, args any) (submit.Receipt, error)
}

// Reader re-reads canonical policy state after a confirmed transition.
type Reader interface {
	GetPolicy(ctx context.Context, id int64) (ledger.Policy, error)
}

// Summary counts per-policy outcomes of one run. It is logged, never
// surfaced to callers outside tests.
type Summary struct {
	Scanned  int
	Lapsed   int
	Reverted int
	Failed   int
}

// Scheduler runs the lapse scan on a fixed interval. Overlap is prevented
// explicitly with a weighted semaphore rather than trusting the ticker
// cadence: a tick that arrives while a run is executing is skipped.
type Scheduler struct {
	store     Store
	submitter TxSubmitter
	reader    Reader
	logger    *log.Logger

	interval time.Duration
	inFlight *semaphore.Weighted
	now      func() time.Time
}

func New(store Store, submitter TxSubmitter, reader Reader, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		store:     store,
		submitter: submitter,
		reader:    reader,
		logger:    logger,
		interval:  time.Hour,
		inFlight:  semaphore.NewWeighted(1),
		now:       time.Now,
	}
}

// WithInterval overrides the hourly cadence.
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithClock overrides the overdue-scan clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run executes one scan immediately, then on every interval tick until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	summary, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Printf("scheduler: previous run still executing, tick skipped")
	case err != nil:
		s.logger.Printf("scheduler: run failed: %v", err)
	default:
		s.logger.Printf("scheduler: run done scanned=%d lapsed=%d reverted=%d failed=%d",
			summary.Scanned, summary.Lapsed, summary.Reverted, summary.Failed)
	}
}

// RunOnce performs a single lapse scan. Each overdue policy is handled in
// isolation: a reverted or unconfirmed lapse for one policy never stops the
// attempts on the rest of the set.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if !s.inFlight.TryAcquire(1) {
		return Summary{}, ErrRunInProgress
	}
	defer s.inFlight.Release(1)

	overdue, err := s.store.ListOverduePolicies(ctx, s.now())
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Scanned: len(overdue)}
	for _, row := range overdue {
		switch s.lapseOne(ctx, row.ID) {
		case outcomeLapsed:
			summary.Lapsed++
		case outcomeReverted:
			summary.Reverted++
		case outcomeFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

type outcome int

const (
	outcomeLapsed outcome = iota
	outcomeReverted
	outcomeFailed
)

func (s *Scheduler) lapseOne(ctx context.Context, policyID int64) outcome {
	_, err := s.submitter.Submit(ctx, ledger.OpCheckAndLapseCoverage, ledger.CheckAndLapseArgs{PolicyID: policyID})
	switch {
	case err == nil:
		s.logger.Printf("scheduler: policy %d lapsed", policyID)
		s.refreshMirror(ctx, policyID)
		return outcomeLapsed
	case submit.IsReverted(err):
		// The ledger guard re-checks overdue status, so a revert means the
		// intended state already holds or cannot hold. Refresh anyway: a
		// concurrent lapse leaves the mirror row stale until something
		// re-reads it.
		s.logger.Printf("scheduler: policy %d lapse reverted: %v", policyID, err)
		s.refreshMirror(ctx, policyID)
		return outcomeReverted
	default:
		// Unconfirmed. The policy stays in the overdue set and the next run
		// re-attempts it.
		s.logger.Printf("scheduler: policy %d lapse not confirmed: %v", policyID, err)
		return outcomeFailed
	}
}

// refreshMirror writes the policy's current ledger state into the mirror so
// the lapse becomes visible without depending on the notification stream.
// Best effort: on failure the row stays stale until the next run or the
// policy.lapsed notification converges it.
func (s *Scheduler) refreshMirror(ctx context.Context, policyID int64) {
	policy, err := s.reader.GetPolicy(ctx, policyID)
	if err != nil {
		s.logger.Printf("scheduler: refresh policy %d: fetch: %v", policyID, err)
		return
	}
	if err := s.store.UpsertPolicy(ctx, mirror.PolicyRowFromLedger(policy, s.now())); err != nil {
		s.logger.Printf("scheduler: refresh policy %d: upsert: %v", policyID, err)
	}
}

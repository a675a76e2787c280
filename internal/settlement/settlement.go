// Package settlement turns job outcomes into cost, payments and node reputation.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"meshplane/internal/clock"
	"meshplane/internal/store"
)

const (
	// DefaultRatePerMinute is the price of one minute of node time.
	DefaultRatePerMinute = 0.10

	CompletionReward = 0.01
	FailurePenalty   = -0.05

	ReasonCompleted = "job_completed_successfully"
	ReasonFailed    = "job_failed"

	// BudgetExceeded is the error message of jobs whose cost passed their budget.
	BudgetExceeded = "budget exceeded"

	DefaultHistoryLimit = 50
)

// Settler prices finished jobs and records their consequences.
type Settler struct {
	store  store.Store
	clock  clock.Clock
	rate   float64
	logger *slog.Logger
}

// NewSettler creates a Settler. A non-positive rate falls back to DefaultRatePerMinute.
func NewSettler(s store.Store, c clock.Clock, ratePerMinute float64, logger *slog.Logger) *Settler {
	if ratePerMinute <= 0 {
		ratePerMinute = DefaultRatePerMinute
	}
	return &Settler{store: s, clock: c, rate: ratePerMinute, logger: logger}
}

// RatePerMinute returns the configured rate.
func (s *Settler) RatePerMinute() float64 {
	return s.rate
}

// Cost prices an execution of the given duration.
func (s *Settler) Cost(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return roundMicros(s.rate * d.Minutes())
}

// Quote returns the cost a completing job owes and whether it fits its budget.
// An accrued cost reported by the executor takes precedence over the duration.
func (s *Settler) Quote(job *store.Job, accrued *float64, d time.Duration) (float64, bool) {
	cost := s.Cost(d)
	if accrued != nil {
		cost = roundMicros(*accrued)
	}
	if job.Budget != nil && cost > *job.Budget {
		return cost, false
	}
	return cost, true
}

// Settle records the consequences of a terminal job inside tx: a completed
// payment and a reward for completed jobs, a penalty for failed ones.
func (s *Settler) Settle(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if job.AssignedNode == nil {
		// Never ran on a node; nothing to pay or judge.
		return nil
	}
	nodeID := *job.AssignedNode

	switch job.Status {
	case store.JobStatusCompleted:
		if err := s.pay(ctx, tx, job, nodeID); err != nil {
			return err
		}
		return s.adjust(ctx, tx, nodeID, job.JobID, CompletionReward, ReasonCompleted)
	case store.JobStatusFailed:
		return s.adjust(ctx, tx, nodeID, job.JobID, FailurePenalty, ReasonFailed)
	default:
		return fmt.Errorf("settle job %s: status %s is not terminal", job.JobID, job.Status)
	}
}

func (s *Settler) pay(ctx context.Context, tx store.DBTransaction, job *store.Job, nodeID string) error {
	now := s.clock.Now()
	payment := &store.Payment{
		TransactionID: store.NewID("tx"),
		JobID:         job.JobID,
		NodeID:        nodeID,
		UserID:        job.UserID,
		Amount:        job.Cost,
		Status:        store.PaymentStatusPending,
		CreatedAt:     now,
	}
	if err := s.store.CreatePayment(ctx, tx, payment); err != nil {
		return err
	}
	ok, err := s.store.CompletePayment(ctx, tx, payment.TransactionID, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("payment %s: %w", payment.TransactionID, store.ErrConflict)
	}

	s.logger.Info("payment completed",
		"transaction_id", payment.TransactionID,
		"job_id", job.JobID,
		"node_id", nodeID,
		"amount", payment.Amount,
	)
	return nil
}

func (s *Settler) adjust(ctx context.Context, tx store.DBTransaction, nodeID, jobID string, delta float64, reason string) error {
	reputation, err := s.store.AdjustReputation(ctx, tx, nodeID, delta)
	if err != nil {
		return fmt.Errorf("adjust reputation of %s: %w", nodeID, err)
	}

	entry := &store.ReputationEntry{
		ID:        store.NewID("rep"),
		NodeID:    nodeID,
		JobID:     &jobID,
		Change:    delta,
		Reason:    reason,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.AppendReputation(ctx, tx, entry); err != nil {
		return err
	}

	s.logger.Info("reputation updated", "node_id", nodeID, "change", delta, "reputation", reputation, "reason", reason)
	return nil
}

// GetJobCost sums the completed payments of a job.
func (s *Settler) GetJobCost(ctx context.Context, jobID string) (float64, error) {
	return s.store.SumCompletedPayments(ctx, nil, store.PaymentFilter{JobID: jobID})
}

// ReputationHistory returns a node's reputation changes, newest first.
func (s *Settler) ReputationHistory(ctx context.Context, nodeID string, limit int) ([]store.ReputationEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.ListReputation(ctx, nil, nodeID, limit)
}

func roundMicros(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

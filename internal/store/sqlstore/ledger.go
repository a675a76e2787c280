package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"meshplane/internal/store"
)

func (s *Store) CreatePayment(ctx context.Context, tx store.DBTransaction, payment *store.Payment) error {
	query := `
		INSERT INTO payments (transaction_id, job_id, node_id, user_id, amount, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.exec(ctx, tx, query,
		payment.TransactionID,
		payment.JobID,
		payment.NodeID,
		payment.UserID,
		payment.Amount,
		payment.Status,
		payment.CreatedAt.UTC(),
		nullTime(payment.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// CompletePayment only moves pending payments; a second call reports false.
func (s *Store) CompletePayment(ctx context.Context, tx store.DBTransaction, transactionID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, tx, `
		UPDATE payments
		SET status = $1, completed_at = $2
		WHERE transaction_id = $3 AND status = $4
	`, store.PaymentStatusCompleted, at.UTC(), transactionID, store.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) ListPayments(ctx context.Context, tx store.DBTransaction, jobID string) ([]store.Payment, error) {
	query := `
		SELECT transaction_id, job_id, node_id, user_id, amount, status, created_at, completed_at
		FROM payments
		WHERE job_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.query(ctx, tx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list payments query failed: %w", err)
	}
	defer rows.Close()

	var payments []store.Payment
	for rows.Next() {
		var p store.Payment
		var completedAt sql.NullTime
		if err := rows.Scan(&p.TransactionID, &p.JobID, &p.NodeID, &p.UserID, &p.Amount, &p.Status, &p.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("list payments scan failed: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.CompletedAt = timePtr(completedAt)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payments rows error: %w", err)
	}
	return payments, nil
}

func (s *Store) SumCompletedPayments(ctx context.Context, tx store.DBTransaction, filter store.PaymentFilter) (float64, error) {
	args := []interface{}{store.PaymentStatusCompleted}
	conds := []string{"status = $1"}

	if filter.JobID != "" {
		args = append(args, filter.JobID)
		conds = append(conds, fmt.Sprintf("job_id = $%d", len(args)))
	}
	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		conds = append(conds, fmt.Sprintf("node_id = $%d", len(args)))
	}

	query := "SELECT COALESCE(SUM(amount), 0) FROM payments WHERE " + strings.Join(conds, " AND ")

	var total float64
	if err := s.queryRow(ctx, tx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}

func (s *Store) AppendReputation(ctx context.Context, tx store.DBTransaction, entry *store.ReputationEntry) error {
	query := `
		INSERT INTO reputation_history (id, node_id, job_id, change, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.exec(ctx, tx, query,
		entry.ID,
		entry.NodeID,
		nullString(entry.JobID),
		entry.Change,
		entry.Reason,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append reputation entry: %w", err)
	}
	return nil
}

func (s *Store) ListReputation(ctx context.Context, tx store.DBTransaction, nodeID string, limit int) ([]store.ReputationEntry, error) {
	query := `
		SELECT id, node_id, job_id, change, reason, created_at
		FROM reputation_history
		WHERE node_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.query(ctx, tx, query, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reputation query failed: %w", err)
	}
	defer rows.Close()

	var entries []store.ReputationEntry
	for rows.Next() {
		var e store.ReputationEntry
		var jobID sql.NullString
		if err := rows.Scan(&e.ID, &e.NodeID, &jobID, &e.Change, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list reputation scan failed: %w", err)
		}
		e.JobID = stringPtr(jobID)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reputation rows error: %w", err)
	}
	return entries, nil
}

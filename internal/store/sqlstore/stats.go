package sqlstore

import (
	"context"
	"fmt"

	"meshplane/internal/store"
)

func (s *Store) SystemStats(ctx context.Context) (*store.SystemStats, error) {
	var st store.SystemStats

	err := s.queryRow(ctx, nil, `
		SELECT COUNT(*), COALESCE(AVG(reputation), 0), COALESCE(AVG(compute_score), 0)
		FROM nodes
	`).Scan(&st.NodeCount, &st.AverageReputation, &st.AverageComputeScore)
	if err != nil {
		return nil, fmt.Errorf("node aggregates: %w", err)
	}

	counts, err := s.countJobs(ctx, "")
	if err != nil {
		return nil, err
	}
	st.JobCounts = *counts

	st.TotalRevenue, err = s.SumCompletedPayments(ctx, nil, store.PaymentFilter{})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) NodeJobStats(ctx context.Context, nodeID string) (*store.NodeJobStats, error) {
	var st store.NodeJobStats

	counts, err := s.countJobs(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	st.Jobs = *counts

	err = s.queryRow(ctx, nil,
		"SELECT COALESCE(SUM(cost), 0) FROM jobs WHERE assigned_node = $1", nodeID,
	).Scan(&st.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("node cost: %w", err)
	}

	st.Earnings, err = s.SumCompletedPayments(ctx, nil, store.PaymentFilter{NodeID: nodeID})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// countJobs groups jobs by status, optionally restricted to one assigned node.
func (s *Store) countJobs(ctx context.Context, nodeID string) (*store.JobCounts, error) {
	query := "SELECT status, COUNT(*) FROM jobs"
	var args []interface{}
	if nodeID != "" {
		query += " WHERE assigned_node = $1"
		args = append(args, nodeID)
	}
	query += " GROUP BY status"

	rows, err := s.query(ctx, nil, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var c store.JobCounts
	for rows.Next() {
		var status store.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs scan: %w", err)
		}
		c.Total += n
		switch status {
		case store.JobStatusPending:
			c.Pending = n
		case store.JobStatusRunning:
			c.Running = n
		case store.JobStatusCompleted:
			c.Completed = n
		case store.JobStatusFailed:
			c.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs rows: %w", err)
	}
	return &c, nil
}

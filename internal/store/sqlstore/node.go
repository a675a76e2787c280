package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"meshplane/internal/store"
)

const nodeColumns = `node_id, host, port, gpu_memory_gb, compute_score, reputation, status, last_heartbeat, registered_at, metadata`

func scanNode(row rowScanner) (*store.Node, error) {
	var n store.Node
	var metadata []byte
	if err := row.Scan(
		&n.NodeID, &n.Host, &n.Port, &n.GPUMemoryGB, &n.ComputeScore,
		&n.Reputation, &n.Status, &n.LastHeartbeat, &n.RegisteredAt, &metadata,
	); err != nil {
		return nil, err
	}
	n.LastHeartbeat = n.LastHeartbeat.UTC()
	n.RegisteredAt = n.RegisteredAt.UTC()

	m, err := decodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode node metadata: %w", err)
	}
	n.Metadata = m
	return &n, nil
}

// UpsertNode inserts a node row or refreshes an existing one.
// Reputation and registered_at survive re-registration.
func (s *Store) UpsertNode(ctx context.Context, tx store.DBTransaction, node *store.Node) (*store.Node, error) {
	metadata, err := encodeMetadata(node.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO nodes (node_id, host, port, gpu_memory_gb, compute_score, reputation, status, last_heartbeat, registered_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (node_id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			gpu_memory_gb = excluded.gpu_memory_gb,
			compute_score = excluded.compute_score,
			status = CASE WHEN nodes.status = 'busy' THEN nodes.status ELSE excluded.status END,
			last_heartbeat = excluded.last_heartbeat,
			metadata = excluded.metadata
		RETURNING ` + nodeColumns

	row := s.queryRow(ctx, tx, query,
		node.NodeID,
		node.Host,
		node.Port,
		node.GPUMemoryGB,
		node.ComputeScore,
		node.Reputation,
		node.Status,
		node.LastHeartbeat.UTC(),
		node.RegisteredAt.UTC(),
		metadata,
	)
	stored, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert node %s: %w", node.NodeID, err)
	}
	return stored, nil
}

func (s *Store) GetNode(ctx context.Context, tx store.DBTransaction, nodeID string) (*store.Node, error) {
	query := "SELECT " + nodeColumns + " FROM nodes WHERE node_id = $1"

	node, err := scanNode(s.queryRow(ctx, tx, query, nodeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node %s: %w", nodeID, store.ErrNotFound)
		}
		return nil, err
	}
	return node, nil
}

func (s *Store) ListNodes(ctx context.Context, tx store.DBTransaction, filter store.NodeFilter) ([]store.Node, error) {
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.HeartbeatSince != nil {
		args = append(args, filter.HeartbeatSince.UTC())
		conds = append(conds, fmt.Sprintf("last_heartbeat >= $%d", len(args)))
	}
	if filter.MinGPUMemoryGB > 0 {
		args = append(args, filter.MinGPUMemoryGB)
		conds = append(conds, fmt.Sprintf("gpu_memory_gb >= $%d", len(args)))
	}

	query := "SELECT " + nodeColumns + " FROM nodes"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY node_id ASC"

	rows, err := s.query(ctx, tx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes query failed: %w", err)
	}
	defer rows.Close()

	var nodes []store.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list nodes scan failed: %w", err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list nodes rows error: %w", err)
	}

	return nodes, nil
}

// TouchNode records a heartbeat. A busy node stays busy until its job is released.
func (s *Store) TouchNode(ctx context.Context, tx store.DBTransaction, nodeID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, tx, `
		UPDATE nodes
		SET last_heartbeat = $1,
			status = CASE WHEN status = $2 THEN status ELSE $3 END
		WHERE node_id = $4
	`, at.UTC(), store.NodeStatusBusy, store.NodeStatusActive, nodeID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) SetNodeStatus(ctx context.Context, tx store.DBTransaction, nodeID string, status store.NodeStatus) (bool, error) {
	res, err := s.exec(ctx, tx, "UPDATE nodes SET status = $1 WHERE node_id = $2", status, nodeID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CompareAndSetNodeStatus is the allocation primitive: only one caller can
// move a node out of a given status.
func (s *Store) CompareAndSetNodeStatus(ctx context.Context, tx store.DBTransaction, nodeID string, from, to store.NodeStatus) (bool, error) {
	res, err := s.exec(ctx, tx, `
		UPDATE nodes
		SET status = $1
		WHERE node_id = $2 AND status = $3
	`, to, nodeID, from)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) MarkStaleNodes(ctx context.Context, tx store.DBTransaction, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, tx, `
		UPDATE nodes
		SET status = $1
		WHERE status = $2 AND last_heartbeat < $3
	`, store.NodeStatusInactive, store.NodeStatusActive, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AdjustReputation applies delta and clamps the result to [0, 1] in a single statement.
func (s *Store) AdjustReputation(ctx context.Context, tx store.DBTransaction, nodeID string, delta float64) (float64, error) {
	query := `
		UPDATE nodes
		SET reputation = CASE
			WHEN reputation + $1 > 1 THEN 1
			WHEN reputation + $2 < 0 THEN 0
			ELSE reputation + $3
		END
		WHERE node_id = $4
		RETURNING reputation
	`

	var reputation float64
	err := s.queryRow(ctx, tx, query, delta, delta, delta, nodeID).Scan(&reputation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("node %s: %w", nodeID, store.ErrNotFound)
		}
		return 0, err
	}
	return reputation, nil
}

// Package nodes is the directory of worker nodes: registration, heartbeats,
// liveness and candidate selection for the scheduler.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meshplane/internal/clock"
	"meshplane/internal/store"
)

const (
	// DefaultLivenessWindow is the maximum heartbeat age of a live node.
	DefaultLivenessWindow = 5 * time.Minute

	// InitialReputation is assigned to newly registered nodes.
	InitialReputation = 0.5
)

// ErrInvalidNode is returned when registration parameters are out of range.
var ErrInvalidNode = errors.New("invalid node")

// RegisterParams describes a node announcing itself to the mesh.
type RegisterParams struct {
	NodeID       string
	Host         string
	Port         int
	GPUMemoryGB  int
	ComputeScore float64
	Metadata     map[string]any
}

// Directory tracks nodes and their liveness.
type Directory struct {
	store  store.NodeStore
	clock  clock.Clock
	window time.Duration
	logger *slog.Logger
}

// NewDirectory creates a Directory. A non-positive window falls back to DefaultLivenessWindow.
func NewDirectory(s store.NodeStore, c clock.Clock, window time.Duration, logger *slog.Logger) *Directory {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	return &Directory{store: s, clock: c, window: window, logger: logger}
}

// LivenessWindow returns the configured window.
func (d *Directory) LivenessWindow() time.Duration {
	return d.window
}

// Register creates or refreshes a node. Existing nodes keep their reputation,
// registration time and, when none is supplied, their metadata.
func (d *Directory) Register(ctx context.Context, p RegisterParams) (*store.Node, error) {
	if p.NodeID == "" {
		return nil, fmt.Errorf("%w: node_id is required", ErrInvalidNode)
	}
	if p.GPUMemoryGB < 0 {
		return nil, fmt.Errorf("%w: gpu_memory_gb must be >= 0", ErrInvalidNode)
	}
	if p.ComputeScore < 0 {
		return nil, fmt.Errorf("%w: compute_score must be >= 0", ErrInvalidNode)
	}

	metadata := p.Metadata
	if metadata == nil {
		existing, err := d.store.GetNode(ctx, nil, p.NodeID)
		switch {
		case err == nil:
			metadata = existing.Metadata
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	now := d.clock.Now()
	node, err := d.store.UpsertNode(ctx, nil, &store.Node{
		NodeID:        p.NodeID,
		Host:          p.Host,
		Port:          p.Port,
		GPUMemoryGB:   p.GPUMemoryGB,
		ComputeScore:  p.ComputeScore,
		Reputation:    InitialReputation,
		Status:        store.NodeStatusActive,
		LastHeartbeat: now,
		RegisteredAt:  now,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("node registered",
		"node_id", node.NodeID,
		"address", node.Address(),
		"gpu_memory_gb", node.GPUMemoryGB,
		"compute_score", node.ComputeScore,
	)
	return node, nil
}

// Heartbeat marks the node alive. It reports false for unknown nodes.
func (d *Directory) Heartbeat(ctx context.Context, nodeID string) (bool, error) {
	return d.store.TouchNode(ctx, nil, nodeID, d.clock.Now())
}

// Get returns a node or store.ErrNotFound.
func (d *Directory) Get(ctx context.Context, nodeID string) (*store.Node, error) {
	return d.store.GetNode(ctx, nil, nodeID)
}

// List returns every known node regardless of status.
func (d *Directory) List(ctx context.Context) ([]store.Node, error) {
	return d.store.ListNodes(ctx, nil, store.NodeFilter{})
}

// ListLive returns active nodes whose last heartbeat is within the liveness window.
func (d *Directory) ListLive(ctx context.Context) ([]store.Node, error) {
	return d.live(ctx, 0)
}

// BestCandidates returns live nodes with at least minGPU memory, best first.
func (d *Directory) BestCandidates(ctx context.Context, minGPU, limit int) ([]store.Node, error) {
	live, err := d.live(ctx, minGPU)
	if err != nil {
		return nil, err
	}
	return Rank(live, ByCapability, limit), nil
}

func (d *Directory) live(ctx context.Context, minGPU int) ([]store.Node, error) {
	since := d.clock.Now().Add(-d.window)
	return d.store.ListNodes(ctx, nil, store.NodeFilter{
		Status:         store.NodeStatusActive,
		HeartbeatSince: &since,
		MinGPUMemoryGB: minGPU,
	})
}

// SetStatus writes the status unconditionally.
func (d *Directory) SetStatus(ctx context.Context, nodeID string, status store.NodeStatus) (bool, error) {
	return d.store.SetNodeStatus(ctx, nil, nodeID, status)
}

// Claim flips an active node to busy within tx. It reports false when another
// allocation got there first.
func (d *Directory) Claim(ctx context.Context, tx store.DBTransaction, nodeID string) (bool, error) {
	return d.store.CompareAndSetNodeStatus(ctx, tx, nodeID, store.NodeStatusActive, store.NodeStatusBusy)
}

// Release returns a busy node to active within tx. Nodes that went inactive
// meanwhile stay inactive until their next heartbeat.
func (d *Directory) Release(ctx context.Context, tx store.DBTransaction, nodeID string) error {
	_, err := d.store.CompareAndSetNodeStatus(ctx, tx, nodeID, store.NodeStatusBusy, store.NodeStatusActive)
	return err
}

// SweepInactive flips active nodes with stale heartbeats to inactive.
func (d *Directory) SweepInactive(ctx context.Context) (int, error) {
	n, err := d.store.MarkStaleNodes(ctx, nil, d.clock.Now().Add(-d.window))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("marked stale nodes inactive", "count", n, "window", d.window.String())
	}
	return int(n), nil
}

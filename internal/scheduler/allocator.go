// Package scheduler matches pending jobs to live nodes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"meshplane/internal/nodes"
	"meshplane/internal/store"
)

// DefaultCandidateLimit is K, the number of ranked nodes an allocation considers.
const DefaultCandidateLimit = 5

// ErrNoCapacity means no eligible node could take the job. The job stays pending.
var ErrNoCapacity = errors.New("no node available")

// JobStarter moves a pending job to running on a node inside the allocation transaction.
type JobStarter interface {
	StartOn(ctx context.Context, tx store.DBTransaction, job *store.Job, nodeID string) error
}

// Config tunes candidate selection.
type Config struct {
	CandidateLimit int
	CheapOrder     CheapOrder
}

// Allocator assigns pending jobs to nodes.
type Allocator struct {
	store     store.Store
	directory *nodes.Directory
	jobs      JobStarter
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewAllocator creates an Allocator.
func NewAllocator(s store.Store, d *nodes.Directory, jobs JobStarter, cfg Config, logger *slog.Logger) *Allocator {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.CheapOrder == "" {
		cfg.CheapOrder = CheapReputationAsc
	}
	return &Allocator{
		store:     s,
		directory: d,
		jobs:      jobs,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("meshplane/scheduler"),
	}
}

// Allocate assigns the job to the best available node and returns its ID.
// An empty ID with a nil error means NONE: the job was not pending or no node
// could take it, and nothing was changed.
func (a *Allocator) Allocate(ctx context.Context, jobID string) (string, error) {
	nodeID, err := a.allocate(ctx, jobID)
	if errors.Is(err, ErrNoCapacity) {
		return "", nil
	}
	return nodeID, err
}

// TryAllocate is Allocate with NONE reported as ErrNoCapacity.
func (a *Allocator) TryAllocate(ctx context.Context, jobID string) (string, error) {
	return a.allocate(ctx, jobID)
}

func (a *Allocator) allocate(ctx context.Context, jobID string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "allocate", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := a.store.GetJob(ctx, nil, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != store.JobStatusPending {
		a.logger.Debug("allocation skipped, job not pending", "job_id", jobID, "status", job.Status)
		return "", ErrNoCapacity
	}

	candidates, err := a.Candidates(ctx, job.Speed)
	if err != nil {
		return "", fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		a.logger.Info("no live nodes for job", "job_id", jobID, "speed", job.Speed)
		return "", ErrNoCapacity
	}

	for _, c := range candidates {
		won, err := a.claim(ctx, job, c.NodeID)
		if err != nil {
			a.logger.Warn("allocation rolled back", "job_id", jobID, "node_id", c.NodeID, "error", err)
			return "", ErrNoCapacity
		}
		if won {
			span.SetAttributes(attribute.String("node.id", c.NodeID))
			a.logger.Info("job allocated",
				"job_id", jobID,
				"node_id", c.NodeID,
				"speed", job.Speed,
				"compute_score", c.ComputeScore,
				"reputation", c.Reputation,
			)
			return c.NodeID, nil
		}
		// Another allocation took this node; try the next one.
	}

	a.logger.Info("every candidate was claimed concurrently", "job_id", jobID)
	return "", ErrNoCapacity
}

// claim flips the node to busy and the job to running in one transaction.
// It reports false, with nothing written, when the node was no longer active.
func (a *Allocator) claim(ctx context.Context, job *store.Job, nodeID string) (bool, error) {
	won := false
	err := store.RunInTx(ctx, a.store, func(tx store.DBTransaction) error {
		ok, err := a.directory.Claim(ctx, tx, nodeID)
		if err != nil || !ok {
			return err
		}
		if err := a.jobs.StartOn(ctx, tx, job, nodeID); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// Candidates returns the ranked live nodes the given speed policy would consider.
func (a *Allocator) Candidates(ctx context.Context, policy string) ([]store.Node, error) {
	live, err := a.directory.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	return nodes.Rank(live, comparator(policy, a.cfg.CheapOrder), a.cfg.CandidateLimit), nil
}

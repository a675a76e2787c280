package store

import (
	"context"
	"database/sql"
	"time"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TxBeginner opens transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// NodeFilter narrows ListNodes. Zero values mean "no constraint".
type NodeFilter struct {
	Status         NodeStatus
	HeartbeatSince *time.Time // last_heartbeat >= HeartbeatSince
	MinGPUMemoryGB int
}

// NodeStore handles the persistence of worker nodes.
// Every method accepts a nil tx, in which case the connection pool is used.
type NodeStore interface {
	// UpsertNode inserts the node or, if the node_id exists, overwrites its
	// connection, capability and liveness fields. Reputation is never overwritten
	// and a busy node keeps its status.
	UpsertNode(ctx context.Context, tx DBTransaction, node *Node) (*Node, error)

	// GetNode returns a node by its ID or ErrNotFound.
	GetNode(ctx context.Context, tx DBTransaction, nodeID string) (*Node, error)

	// ListNodes returns nodes matching the filter ordered by node_id.
	ListNodes(ctx context.Context, tx DBTransaction, filter NodeFilter) ([]Node, error)

	// TouchNode records a heartbeat and flips the node back to active unless it is busy.
	TouchNode(ctx context.Context, tx DBTransaction, nodeID string, at time.Time) (bool, error)

	// SetNodeStatus writes the status unconditionally.
	SetNodeStatus(ctx context.Context, tx DBTransaction, nodeID string, status NodeStatus) (bool, error)

	// CompareAndSetNodeStatus writes the status only if the current status equals from.
	CompareAndSetNodeStatus(ctx context.Context, tx DBTransaction, nodeID string, from, to NodeStatus) (bool, error)

	// MarkStaleNodes flips active nodes whose last heartbeat is before cutoff to inactive.
	MarkStaleNodes(ctx context.Context, tx DBTransaction, cutoff time.Time) (int64, error)

	// AdjustReputation adds delta to the node's reputation, clamped to [0, 1],
	// and returns the new value.
	AdjustReputation(ctx context.Context, tx DBTransaction, nodeID string, delta float64) (float64, error)
}

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	Status        JobStatus
	StartedBefore *time.Time // started_at < StartedBefore
	Limit         int
}

// JobStore handles the persistence of jobs and their execution tasks.
type JobStore interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, tx DBTransaction, job *Job) error

	// GetJob returns a job by its ID or ErrNotFound.
	GetJob(ctx context.Context, tx DBTransaction, jobID string) (*Job, error)

	// ListJobs returns jobs matching the filter, oldest first.
	ListJobs(ctx context.Context, tx DBTransaction, filter JobFilter) ([]Job, error)

	// UpdateJob writes the mutable job fields only if the stored status still
	// equals expected. It reports false when the precondition failed.
	UpdateJob(ctx context.Context, tx DBTransaction, job *Job, expected JobStatus) (bool, error)

	// CreateTask inserts a new task.
	CreateTask(ctx context.Context, tx DBTransaction, task *Task) error

	// UpdateTask writes the task's status, timestamps and duration.
	UpdateTask(ctx context.Context, tx DBTransaction, task *Task) error

	// GetRunningTask returns the most recent running task of a job or ErrNotFound.
	GetRunningTask(ctx context.Context, tx DBTransaction, jobID string) (*Task, error)

	// CountTasks returns task totals for a job.
	CountTasks(ctx context.Context, tx DBTransaction, jobID string) (*TaskCounts, error)
}

// PaymentFilter selects completed payments to sum. Empty fields are ignored.
type PaymentFilter struct {
	JobID  string
	NodeID string
}

// LedgerStore handles payments and the reputation history.
type LedgerStore interface {
	// CreatePayment inserts a new payment.
	CreatePayment(ctx context.Context, tx DBTransaction, payment *Payment) error

	// CompletePayment moves a pending payment to completed.
	CompletePayment(ctx context.Context, tx DBTransaction, transactionID string, at time.Time) (bool, error)

	// ListPayments returns the payments of a job.
	ListPayments(ctx context.Context, tx DBTransaction, jobID string) ([]Payment, error)

	// SumCompletedPayments sums completed payment amounts.
	SumCompletedPayments(ctx context.Context, tx DBTransaction, filter PaymentFilter) (float64, error)

	// AppendReputation inserts one reputation history row.
	AppendReputation(ctx context.Context, tx DBTransaction, entry *ReputationEntry) error

	// ListReputation returns a node's history, newest first.
	ListReputation(ctx context.Context, tx DBTransaction, nodeID string, limit int) ([]ReputationEntry, error)
}

// StatsStore provides read-only aggregations for monitoring.
type StatsStore interface {
	SystemStats(ctx context.Context) (*SystemStats, error)
	NodeJobStats(ctx context.Context, nodeID string) (*NodeJobStats, error)
}

// Store combines every repository the engine needs.
type Store interface {
	TxBeginner
	Ping(ctx context.Context) error
	NodeStore
	JobStore
	LedgerStore
	StatsStore
}

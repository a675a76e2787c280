// Package store contains the database layer for meshplane.
package store

import (
	"net"
	"strconv"
	"time"
)

// Node represents a worker offering compute capacity to the mesh.
type Node struct {
	NodeID        string
	Host          string
	Port          int
	GPUMemoryGB   int
	ComputeScore  float64
	Reputation    float64 // Always within [0, 1]
	Status        NodeStatus
	LastHeartbeat time.Time
	RegisteredAt  time.Time
	Metadata      map[string]any
}

// Address returns the host:port the node advertised on registration.
func (n *Node) Address() string {
	if n.Port == 0 {
		return n.Host
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// NodeStatus represents the availability of a node.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusBusy     NodeStatus = "busy"
	NodeStatusInactive NodeStatus = "inactive"
)

// Job represents a unit of compute work requested by a user.
type Job struct {
	JobID        string
	UserID       string
	JobType      string // finetune, inference, ...
	Model        string
	Dataset      *string
	Budget       *float64 // Ceiling cost, nil means unbounded
	Speed        string
	Status       JobStatus
	AssignedNode *string
	Cost         float64
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Metadata     map[string]any
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no automatic transition leaves the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Task is a single execution attempt of a job on a node.
type Task struct {
	TaskID          string
	JobID           string
	NodeID          string
	Status          TaskStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64
}

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Payment is the record of value transfer for one job's execution.
type Payment struct {
	TransactionID string
	JobID         string
	NodeID        string
	UserID        string
	Amount        float64
	Status        PaymentStatus
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// PaymentStatus represents the state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// ReputationEntry is an append-only ledger row describing one reputation change.
type ReputationEntry struct {
	ID        string
	NodeID    string
	JobID     *string
	Change    float64
	Reason    string
	CreatedAt time.Time
}

// SystemStats aggregates the whole mesh.
type SystemStats struct {
	NodeCount           int64
	AverageReputation   float64
	AverageComputeScore float64
	JobCounts           JobCounts
	TotalRevenue        float64
}

// JobCounts holds job totals by status.
type JobCounts struct {
	Total     int64
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64
}

// NodeJobStats aggregates the jobs a node has been assigned.
type NodeJobStats struct {
	Jobs      JobCounts
	TotalCost float64
	Earnings  float64 // Sum of completed payments
}

// TaskCounts holds task totals for a job.
type TaskCounts struct {
	Total     int64
	Completed int64
	Failed    int64
}

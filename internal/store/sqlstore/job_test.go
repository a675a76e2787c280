package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"meshplane/internal/store"
)

func newJob(id string, at time.Time) *store.Job {
	dataset := "s3://bucket/train.jsonl"
	budget := 5.0
	return &store.Job{
		JobID:     id,
		UserID:    "user-1",
		JobType:   "finetune",
		Model:     "llama-3-8b",
		Dataset:   &dataset,
		Budget:    &budget,
		Speed:     "balanced",
		Status:    store.JobStatusPending,
		CreatedAt: at,
	}
}

func TestUpdateJob_StatusPrecondition(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	job := newJob("job-1", time.Now().UTC())
	job.Status = store.JobStatusCompleted

	mock.ExpectExec(`(?s)UPDATE jobs\s+SET status = \$1,.*WHERE job_id = \$7 AND status = \$8`).
		WithArgs(store.JobStatusCompleted, sqlmock.AnyArg(), 0.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", store.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateJob(context.Background(), nil, job, store.JobStatusRunning)
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	if ok {
		t.Error("expected precondition failure to report false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestJobRoundTrip_SQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.UpsertNode(ctx, nil, newNode("node-1", t0)); err != nil {
		t.Fatalf("UpsertNode failed: %v", err)
	}

	job := newJob("job-1", t0)
	job.Metadata = map[string]any{"epochs": float64(3)}
	if err := s.CreateJob(ctx, nil, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, err := s.GetJob(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != store.JobStatusPending || got.AssignedNode != nil || got.StartedAt != nil {
		t.Errorf("unexpected fresh job: %+v", got)
	}
	if got.Budget == nil || *got.Budget != 5.0 {
		t.Errorf("budget = %v, want 5.0", got.Budget)
	}
	if got.Metadata["epochs"] != float64(3) {
		t.Errorf("metadata = %v", got.Metadata)
	}

	node := "node-1"
	started := t0.Add(time.Minute)
	got.Status = store.JobStatusRunning
	got.AssignedNode = &node
	got.StartedAt = &started
	ok, err := s.UpdateJob(ctx, nil, got, store.JobStatusPending)
	if err != nil || !ok {
		t.Fatalf("UpdateJob = %v, %v", ok, err)
	}

	// The same transition a second time loses its precondition.
	ok, err = s.UpdateJob(ctx, nil, got, store.JobStatusPending)
	if err != nil || ok {
		t.Fatalf("repeated UpdateJob = %v, %v; want false", ok, err)
	}

	running, err := s.GetJob(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if running.AssignedNode == nil || *running.AssignedNode != "node-1" {
		t.Errorf("assigned node = %v", running.AssignedNode)
	}
	if running.StartedAt == nil || !running.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", running.StartedAt, started)
	}

	if _, err := s.GetJob(ctx, nil, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobs_Filters_SQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"job-a", "job-b", "job-c"} {
		if err := s.CreateJob(ctx, nil, newJob(id, t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("CreateJob(%s) failed: %v", id, err)
		}
	}

	started := t0.Add(-2 * time.Hour)
	old, _ := s.GetJob(ctx, nil, "job-b")
	old.Status = store.JobStatusRunning
	old.StartedAt = &started
	if ok, err := s.UpdateJob(ctx, nil, old, store.JobStatusPending); err != nil || !ok {
		t.Fatalf("UpdateJob = %v, %v", ok, err)
	}

	pending, err := s.ListJobs(ctx, nil, store.JobFilter{Status: store.JobStatusPending})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(pending) != 2 || pending[0].JobID != "job-a" || pending[1].JobID != "job-c" {
		t.Errorf("pending jobs = %+v", pending)
	}

	limited, err := s.ListJobs(ctx, nil, store.JobFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListJobs(limit) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].JobID != "job-a" {
		t.Errorf("limited jobs = %+v", limited)
	}

	cutoff := t0.Add(-time.Hour)
	overdue, err := s.ListJobs(ctx, nil, store.JobFilter{Status: store.JobStatusRunning, StartedBefore: &cutoff})
	if err != nil {
		t.Fatalf("ListJobs(overdue) failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].JobID != "job-b" {
		t.Errorf("overdue jobs = %+v", overdue)
	}
}

func TestTasks_SQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.CreateJob(ctx, nil, newJob("job-1", t0)); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	first := &store.Task{TaskID: "task-1", JobID: "job-1", NodeID: "node-1", Status: store.TaskStatusRunning, CreatedAt: t0, StartedAt: &t0}
	if err := s.CreateTask(ctx, nil, first); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	done := t0.Add(90 * time.Second)
	secs := 90.0
	first.Status = store.TaskStatusFailed
	first.CompletedAt = &done
	first.DurationSeconds = &secs
	if err := s.UpdateTask(ctx, nil, first); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	later := t0.Add(time.Hour)
	second := &store.Task{TaskID: "task-2", JobID: "job-1", NodeID: "node-2", Status: store.TaskStatusRunning, CreatedAt: later, StartedAt: &later}
	if err := s.CreateTask(ctx, nil, second); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	running, err := s.GetRunningTask(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetRunningTask failed: %v", err)
	}
	if running.TaskID != "task-2" {
		t.Errorf("running task = %s, want task-2", running.TaskID)
	}

	counts, err := s.CountTasks(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if counts.Total != 2 || counts.Failed != 1 || counts.Completed != 0 {
		t.Errorf("counts = %+v", counts)
	}

	err = s.UpdateTask(ctx, nil, &store.Task{TaskID: "ghost", Status: store.TaskStatusFailed})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

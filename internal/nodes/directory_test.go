package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"meshplane/internal/clock"
	"meshplane/internal/store"
	"meshplane/internal/store/storetest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newDirectory(t *testing.T) (*Directory, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(t0)
	return NewDirectory(storetest.New(t), c, 0, storetest.Logger()), c
}

func register(t *testing.T, d *Directory, id string, gpu int, score float64) {
	t.Helper()
	_, err := d.Register(context.Background(), RegisterParams{
		NodeID: id, Host: "10.0.0.1", Port: 9000, GPUMemoryGB: gpu, ComputeScore: score,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
}

func TestRegister(t *testing.T) {
	d, c := newDirectory(t)
	ctx := context.Background()

	node, err := d.Register(ctx, RegisterParams{
		NodeID: "n1", Host: "gpu-1.local", Port: 9000, GPUMemoryGB: 24, ComputeScore: 8.5,
		Metadata: map[string]any{"gpu": "A100"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if node.Reputation != InitialReputation || node.Status != store.NodeStatusActive {
		t.Errorf("new node = %+v", node)
	}
	if node.Address() != "gpu-1.local:9000" {
		t.Errorf("address = %s", node.Address())
	}

	c.Advance(time.Minute)
	again, err := d.Register(ctx, RegisterParams{NodeID: "n1", Host: "gpu-1.local", Port: 9001, GPUMemoryGB: 40, ComputeScore: 9})
	if err != nil {
		t.Fatalf("re-Register failed: %v", err)
	}
	if again.GPUMemoryGB != 40 || again.Port != 9001 {
		t.Errorf("capability not refreshed: %+v", again)
	}
	if again.Metadata["gpu"] != "A100" {
		t.Errorf("metadata not carried forward: %v", again.Metadata)
	}
	if !again.RegisteredAt.Equal(t0) || !again.LastHeartbeat.Equal(t0.Add(time.Minute)) {
		t.Errorf("timestamps = %v / %v", again.RegisteredAt, again.LastHeartbeat)
	}
}

func TestRegister_Invalid(t *testing.T) {
	d, _ := newDirectory(t)

	cases := []RegisterParams{
		{NodeID: ""},
		{NodeID: "n1", GPUMemoryGB: -1},
		{NodeID: "n1", ComputeScore: -0.5},
	}
	for _, p := range cases {
		if _, err := d.Register(context.Background(), p); !errors.Is(err, ErrInvalidNode) {
			t.Errorf("Register(%+v) error = %v, want ErrInvalidNode", p, err)
		}
	}
}

func TestHeartbeat(t *testing.T) {
	d, c := newDirectory(t)
	ctx := context.Background()
	register(t, d, "n1", 24, 8)

	c.Advance(10 * time.Minute)
	if live, _ := d.ListLive(ctx); len(live) != 0 {
		t.Fatalf("stale node still live: %v", ids(live))
	}

	ok, err := d.Heartbeat(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("Heartbeat = %v, %v", ok, err)
	}
	if live, _ := d.ListLive(ctx); len(live) != 1 {
		t.Errorf("expected n1 live after heartbeat, got %v", ids(live))
	}

	ok, err = d.Heartbeat(ctx, "unknown")
	if err != nil || ok {
		t.Errorf("Heartbeat(unknown) = %v, %v; want false", ok, err)
	}
}

func TestBestCandidates_NeverReturnsIneligible(t *testing.T) {
	d, c := newDirectory(t)
	ctx := context.Background()

	register(t, d, "small", 8, 9.9)
	register(t, d, "stale", 80, 9.5)
	c.Advance(4 * time.Minute)
	register(t, d, "busy", 48, 9.0)
	register(t, d, "inactive", 48, 9.0)
	register(t, d, "ok-b", 24, 7.0)
	register(t, d, "ok-a", 24, 7.0)
	register(t, d, "ok-top", 32, 8.0)
	c.Advance(2 * time.Minute) // "stale" and "small" fall out of the window

	if _, err := d.SetStatus(ctx, "busy", store.NodeStatusBusy); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetStatus(ctx, "inactive", store.NodeStatusInactive); err != nil {
		t.Fatal(err)
	}

	got, err := d.BestCandidates(ctx, 16, 5)
	if err != nil {
		t.Fatalf("BestCandidates failed: %v", err)
	}
	want := []string{"ok-top", "ok-a", "ok-b"}
	if !equal(ids(got), want) {
		t.Fatalf("BestCandidates = %v, want %v", ids(got), want)
	}
	for _, n := range got {
		if n.GPUMemoryGB < 16 || n.Status != store.NodeStatusActive {
			t.Errorf("ineligible node returned: %+v", n)
		}
	}

	if got, _ := d.BestCandidates(ctx, 16, 1); len(got) != 1 || got[0].NodeID != "ok-top" {
		t.Errorf("limit not applied: %v", ids(got))
	}
}

func TestClaimAndRelease(t *testing.T) {
	d, _ := newDirectory(t)
	ctx := context.Background()
	register(t, d, "n1", 24, 8)

	ok, err := d.Claim(ctx, nil, "n1")
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if ok, _ := d.Claim(ctx, nil, "n1"); ok {
		t.Fatal("node claimed twice")
	}

	if err := d.Release(ctx, nil, "n1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	n, _ := d.Get(ctx, "n1")
	if n.Status != store.NodeStatusActive {
		t.Errorf("status after release = %s, want active", n.Status)
	}
}

func TestSweepInactive(t *testing.T) {
	d, c := newDirectory(t)
	ctx := context.Background()

	register(t, d, "old", 24, 8)
	c.Advance(6 * time.Minute)
	register(t, d, "new", 24, 8)

	n, err := d.SweepInactive(ctx)
	if err != nil {
		t.Fatalf("SweepInactive failed: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d, want 1", n)
	}

	old, _ := d.Get(ctx, "old")
	if old.Status != store.NodeStatusInactive {
		t.Errorf("old status = %s, want inactive", old.Status)
	}

	all, _ := d.List(ctx)
	if len(all) != 2 {
		t.Errorf("List returned %d nodes, want 2", len(all))
	}

	if _, err := d.Get(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

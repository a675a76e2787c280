package runtime

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSimulatedRuntime_ReportsNominalDuration(t *testing.T) {
	rt := NewSimulatedRuntime(1000)

	h, err := rt.Start(context.Background(), StartOptions{Name: "t1", Duration: 10 * time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Elapsed != 10*time.Second {
		t.Errorf("elapsed = %s, want 10s", res.Elapsed)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("simulation took %s, expected it scaled down", waited)
	}
}

func TestSimulatedRuntime_FailEnv(t *testing.T) {
	rt := NewSimulatedRuntime(1000)
	rt.FailEnv = "SIMULATE_EXIT"

	h, err := rt.Start(context.Background(), StartOptions{
		Name: "t1",
		Env:  map[string]string{"SIMULATE_EXIT": "3"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	res, _ := h.Wait(context.Background())
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}

	if _, err := rt.Start(context.Background(), StartOptions{Env: map[string]string{"SIMULATE_EXIT": "x"}}); err == nil {
		t.Error("expected error for non-numeric exit code")
	}
}

func TestSimulatedHandle_Stop(t *testing.T) {
	rt := NewSimulatedRuntime(1)
	h, _ := rt.Start(context.Background(), StartOptions{Name: "t1", Duration: time.Hour})

	done := make(chan ExitResult, 1)
	go func() {
		res, _ := h.Wait(context.Background())
		done <- res
	}()

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stopping twice is harmless.
	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	select {
	case res := <-done:
		if res.ExitCode != -1 || res.Error == nil {
			t.Errorf("result = %+v, want stopped", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestSimulatedHandle_ConcurrentStop(t *testing.T) {
	h, _ := NewSimulatedRuntime(1).Start(context.Background(), StartOptions{Name: "t2", Duration: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Stop(context.Background()); err != nil {
				t.Errorf("Stop failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := h.Wait(context.Background()); err == nil {
		t.Error("expected stopped task to report an error")
	}
}

func TestSimulatedHandle_WaitHonoursContext(t *testing.T) {
	h, _ := NewSimulatedRuntime(1).Start(context.Background(), StartOptions{Duration: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestSimulatedHandle_StreamLogs(t *testing.T) {
	h, _ := NewSimulatedRuntime(1).Start(context.Background(), StartOptions{Name: "t1", Duration: time.Second})
	rc, err := h.StreamLogs(context.Background())
	if err != nil {
		t.Fatalf("StreamLogs failed: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if !strings.Contains(string(b), "t1") {
		t.Errorf("logs = %q", b)
	}
}

func TestEnvList_Sorted(t *testing.T) {
	got := EnvList(map[string]string{"B": "2", "A": "1"})
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("EnvList = %v", got)
	}
	if len(EnvList(nil)) != 0 {
		t.Error("expected empty list")
	}
}

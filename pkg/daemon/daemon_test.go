package daemon

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// --- PID file ---

func TestAcquireAndReleasePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "host-pulse.pid")

	if err := AcquirePID(path); err != nil {
		t.Fatalf("AcquirePID: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	// Re-acquiring from the same process is allowed.
	if err := AcquirePID(path); err != nil {
		t.Errorf("re-acquire: %v", err)
	}

	if err := ReleasePID(path); err != nil {
		t.Fatalf("ReleasePID: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file should be gone after release")
	}
	if err := ReleasePID(path); err != nil {
		t.Errorf("second ReleasePID: %v", err)
	}
}

func TestAcquirePIDHeldByLiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	path := filepath.Join(t.TempDir(), "host-pulse.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		t.Fatal(err)
	}

	err := AcquirePID(path)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("AcquirePID = %v, want ErrAlreadyRunning", err)
	}

	// Release must not remove another process's lock.
	if err := ReleasePID(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("foreign PID file was removed")
	}
}

func TestAcquirePIDReplacesStaleFile(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run helper process: %v", err)
	}
	dead := cmd.Process.Pid

	path := filepath.Join(t.TempDir(), "host-pulse.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(dead)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := AcquirePID(path); err != nil {
		t.Fatalf("AcquirePID over stale file: %v", err)
	}
	if pid, _ := ReadPID(path); pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if IsProcessAlive(0) || IsProcessAlive(-1) {
		t.Error("non-positive PIDs are never alive")
	}
}

// --- health file ---

func TestHealthFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "health.json")
	in := &HealthStatus{
		PID:          42,
		RunID:        "abc",
		StartedAt:    time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
		Cycles:       3,
		Delivered:    2,
		Failed:       1,
		CurrentDelay: "5m0s",
	}
	if err := WriteHealthFile(path, in); err != nil {
		t.Fatalf("WriteHealthFile: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the health file", len(entries))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("mode = %o, want 644", perm)
	}
	out, err := ReadHealthFile(path)
	if err != nil {
		t.Fatalf("ReadHealthFile: %v", err)
	}
	if out.PID != 42 || out.RunID != "abc" || out.Cycles != 3 || out.CurrentDelay != "5m0s" || !out.StartedAt.Equal(in.StartedAt) {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestReadHealthFileMissing(t *testing.T) {
	if _, err := ReadHealthFile(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

// --- IPC ---

// shortSocket returns a socket path short enough for sun_path limits.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "hp")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startIPC(t *testing.T, loop *Loop) string {
	t.Helper()
	sock := shortSocket(t)
	srv := NewIPCServer(sock, LoopHandler{Loop: loop}, quietLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return sock
}

func TestIPCStatus(t *testing.T) {
	loop := NewLoop(LoopConfig{Interval: time.Minute, MaxDelay: time.Minute, RunID: "run-7"},
		&fakeReporter{}, &scriptedNotifier{outcomes: []bool{true}}, quietLogger())
	_ = loop.RunOnce(context.Background())
	sock := startIPC(t, loop)

	info, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := NewIPCClient(sock).Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RunID != "run-7" || st.Cycles != 1 || !st.LastDelivered {
		t.Errorf("status = %+v", st)
	}
}

func TestIPCSendTriggersLoop(t *testing.T) {
	loop := NewLoop(LoopConfig{Interval: time.Minute, MaxDelay: time.Minute},
		&fakeReporter{}, &scriptedNotifier{outcomes: []bool{true}}, quietLogger())
	sock := startIPC(t, loop)
	client := NewIPCClient(sock)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.SendCommand(ctx, "send")
	if err != nil {
		t.Fatal(err)
	}
	if resp != `{"triggered":true,"already_pending":false}` {
		t.Errorf("first SEND = %s", resp)
	}
	resp, err = client.SendCommand(ctx, "SEND")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp, `"already_pending":true`) {
		t.Errorf("second SEND = %s", resp)
	}
}

func TestIPCUnknownCommand(t *testing.T) {
	loop := NewLoop(LoopConfig{Interval: time.Minute, MaxDelay: time.Minute},
		&fakeReporter{}, &scriptedNotifier{outcomes: []bool{true}}, quietLogger())
	sock := startIPC(t, loop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := NewIPCClient(sock).SendCommand(ctx, "REBOOT now")
	if err != nil {
		t.Fatal(err)
	}
	if resp != `{"error":"unknown command \"REBOOT\""}` {
		t.Errorf("resp = %s", resp)
	}
	if err := responseError(resp); err == nil {
		t.Error("responseError should surface the daemon error")
	}
}

func TestIPCClientNoDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewIPCClient(shortSocket(t)).Status(ctx); err == nil {
		t.Error("expected connect error")
	}
}

func TestIPCStopRemovesSocket(t *testing.T) {
	sock := shortSocket(t)
	srv := NewIPCServer(sock, LoopHandler{}, quietLogger())
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	srv.Stop()
	srv.Stop()
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Error("socket file should be removed")
	}
}

func TestParseIPCCommand(t *testing.T) {
	tests := map[string]string{
		"status":     CmdStatus,
		"  Send  ":   CmdSend,
		"PING extra": CmdPing,
		"":           "",
		"\t":         "",
	}
	for in, want := range tests {
		if got := parseIPCCommand(in); got != want {
			t.Errorf("parseIPCCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIPCClientTrigger(t *testing.T) {
	loop := NewLoop(LoopConfig{Interval: time.Minute, MaxDelay: time.Minute},
		&fakeReporter{}, &scriptedNotifier{outcomes: []bool{true}}, quietLogger())
	sock := startIPC(t, loop)
	client := NewIPCClient(sock)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := client.Trigger(ctx)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if pending {
		t.Error("first trigger reported as already pending")
	}
	if pending, err = client.Trigger(ctx); err != nil || !pending {
		t.Errorf("second Trigger = %v, %v; want merged into the first", pending, err)
	}
}

func TestIPCStartRefusesLiveSocket(t *testing.T) {
	loop := NewLoop(LoopConfig{Interval: time.Minute, MaxDelay: time.Minute},
		&fakeReporter{}, &scriptedNotifier{outcomes: []bool{true}}, quietLogger())
	sock := startIPC(t, loop)

	second := NewIPCServer(sock, LoopHandler{Loop: loop}, quietLogger())
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("second server took over a socket that is still answering")
	}
}

func TestIPCStartReplacesStaleSocket(t *testing.T) {
	sock := shortSocket(t)
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	loop := NewLoop(LoopConfig{Interval: time.Minute, MaxDelay: time.Minute},
		&fakeReporter{}, &scriptedNotifier{outcomes: []bool{true}}, quietLogger())
	srv := NewIPCServer(sock, LoopHandler{Loop: loop}, quietLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start over stale file: %v", err)
	}
	srv.Stop()
}

func TestIPCStartCreatesSocketDir(t *testing.T) {
	sock := filepath.Join(filepath.Dir(shortSocket(t)), "state", "s.sock")
	srv := NewIPCServer(sock, LoopHandler{}, quietLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start with missing parent directory: %v", err)
	}
	defer srv.Stop()

	info, err := os.Stat(filepath.Dir(sock))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("socket dir mode = %o, want 700", perm)
	}
}

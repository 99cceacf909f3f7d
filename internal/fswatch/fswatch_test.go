package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haldane-systems/aetherhub/internal/actor"
)

type recordingTarget struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (r *recordingTarget) Send(msg interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingTarget) snapshot() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interface{}, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestWatchDeliversWriteEvent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "watched.txt")
	if err := os.WriteFile(file, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := &recordingTarget{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := Watch(ctx, dir, target)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(file, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool { return len(target.snapshot()) > 0 })

	found := false
	for _, m := range target.snapshot() {
		tup, ok := m.(actor.Tuple)
		if !ok || len(tup) == 0 {
			continue
		}
		if tup[0] == Tag {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one %s tuple, got %v", Tag, target.snapshot())
	}
}

func TestWatchStopClosesCleanly(t *testing.T) {
	dir := t.TempDir()
	target := &recordingTarget{}
	stop, err := Watch(context.Background(), dir, target)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestWatchMissingPathErrors(t *testing.T) {
	target := &recordingTarget{}
	if _, err := Watch(context.Background(), "/no/such/path/at/all", target); err == nil {
		t.Fatal("expected an error watching a nonexistent path")
	}
}

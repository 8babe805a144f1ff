package vport

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func testPaths(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "ttyV"+string(rune('0'+i)))
	}
	return paths
}

func TestNewPool_CreatesAllEndpoints(t *testing.T) {
	paths := testPaths(t, 3)
	pool, err := NewPool(paths)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	eps := pool.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("pool has %d endpoints, want 3", len(eps))
	}
	for i, ep := range eps {
		if ep.Path() != paths[i] {
			t.Errorf("endpoint %d path = %s, want %s (order must match config)", i, ep.Path(), paths[i])
		}
		if ep.State() != Idle {
			t.Errorf("endpoint %s state = %v, want idle", ep.Path(), ep.State())
		}
	}

	alive, active := pool.Counts()
	if alive != 3 || active != 0 {
		t.Errorf("Counts() = %d, %d, want 3, 0", alive, active)
	}
}

func TestNewPool_FailureLeavesNoSymlinks(t *testing.T) {
	paths := testPaths(t, 3)
	// Make the last path unusable: a regular file is never clobbered.
	if err := os.WriteFile(paths[2], []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewPool(paths); err == nil {
		t.Fatal("NewPool() should fail when an endpoint cannot be created")
	}

	for _, p := range paths[:2] {
		if _, err := os.Lstat(p); !os.IsNotExist(err) {
			t.Errorf("symlink %s should have been cleaned up", p)
		}
	}
}

func TestPool_SweepRecreatesDead(t *testing.T) {
	paths := testPaths(t, 2)
	pool, err := NewPool(paths)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	victim := pool.Endpoints()[0]
	healthy := pool.Endpoints()[1]

	// Break the first endpoint's PTY pair.
	breakPTY(t, victim)
	victim.Read()
	if victim.State() != Dead {
		t.Fatalf("victim state = %v, want dead", victim.State())
	}

	pool.Sweep()

	if victim.State() != Idle {
		t.Fatalf("victim state after sweep = %v, want idle", victim.State())
	}
	if victim.Path() != paths[0] {
		t.Errorf("sweep changed the symlink path: %s", victim.Path())
	}
	if _, err := os.Readlink(paths[0]); err != nil {
		t.Errorf("symlink dangling after sweep: %v", err)
	}
	if healthy.State() != Idle {
		t.Errorf("healthy endpoint disturbed by sweep: state = %v", healthy.State())
	}
}

func TestPool_SweepIgnoresHealthy(t *testing.T) {
	paths := testPaths(t, 2)
	pool, err := NewPool(paths)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	before := make([]string, len(pool.Endpoints()))
	for i, ep := range pool.Endpoints() {
		before[i] = ep.SlaveName()
	}

	pool.Sweep()

	for i, ep := range pool.Endpoints() {
		if ep.SlaveName() != before[i] {
			t.Errorf("sweep replaced a healthy PTY pair at %s", ep.Path())
		}
	}
}

func TestPool_CountsTracksActive(t *testing.T) {
	paths := testPaths(t, 3)
	pool, err := NewPool(paths)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	ep := pool.Endpoints()[1]
	client, err := os.OpenFile(ep.Path(), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	ep.Read() // probe flips to Active

	alive, active := pool.Counts()
	if alive != 3 || active != 1 {
		t.Errorf("Counts() = %d, %d, want 3, 1", alive, active)
	}
}

func TestPool_CloseRemovesSymlinks(t *testing.T) {
	paths := testPaths(t, 2)
	pool, err := NewPool(paths)
	if err != nil {
		t.Fatal(err)
	}

	pool.Close()
	pool.Close() // idempotent

	for _, p := range paths {
		if _, err := os.Lstat(p); !os.IsNotExist(err) {
			t.Errorf("symlink %s should be removed on close", p)
		}
	}
}

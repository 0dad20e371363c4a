package notifiedcache

import (
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "notified.bbolt"), ttl)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarkAndSeen(t *testing.T) {
	c := openTemp(t, 24*time.Hour)

	if err := c.Mark([]string{"ev-1", "ev-2"}); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	seen, err := c.Seen([]string{"ev-1", "ev-2", "ev-3"})
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("seen = %v, want ev-1 and ev-2", seen)
	}
	if _, ok := seen["ev-3"]; ok {
		t.Fatal("ev-3 was never marked")
	}
}

func TestSeenSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notified.bbolt")

	c, err := Open(path, 24*time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Mark([]string{"ev-1"}); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, 24*time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	seen, err := reopened.Seen([]string{"ev-1"})
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if _, ok := seen["ev-1"]; !ok {
		t.Fatal("mark must survive reopen")
	}
}

func TestSweepDropsExpired(t *testing.T) {
	// TTL в прошлом: любая запись считается протухшей сразу.
	c := openTemp(t, time.Nanosecond)

	if err := c.Mark([]string{"ev-1", "ev-2"}); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	deleted, err := c.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	seen, err := c.Seen([]string{"ev-1"})
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if len(seen) != 0 {
		t.Fatal("expired entries must not be reported as seen")
	}
}

func TestSweepWithoutTTLKeepsEverything(t *testing.T) {
	c := openTemp(t, 0)

	if err := c.Mark([]string{"ev-1"}); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	deleted, err := c.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	defer m.Stop()

	if m.IsRunning() {
		t.Error("Manager should not be running initially")
	}
	if m.Hub() == nil {
		t.Fatal("Manager hub is nil")
	}
	if m.Root() != root {
		t.Errorf("Expected root %q, got %q", root, m.Root())
	}
}

func TestManager_StartFailsOnMissingRoot(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "missing"), nil, nil)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(); err == nil {
		t.Fatal("Expected Start() to fail for a missing root")
	}
	if m.IsRunning() {
		t.Error("Manager should not be running after a failed Start()")
	}
}

func TestManager_ChangeReachesSubscribersAndListeners(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "index.html")
	if err := os.WriteFile(file, []byte("Hello"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	m, err := NewManager(root, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	defer m.Stop()

	var stale atomic.Int32
	if err := m.AddListener("stale", func(ctx context.Context, event Event) error {
		stale.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddListener() failed: %v", err)
	}

	first, second := m.Subscribe(), m.Subscribe()

	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("Manager should be running after Start()")
	}

	if err := os.WriteFile(file, []byte("Hello, {{ name }}"), 0o644); err != nil {
		t.Fatalf("Failed to modify file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, sub := range []*Subscription{first, second} {
		event, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Subscriber did not receive change: %v", err)
		}
		if event.Path != file {
			t.Errorf("Expected event for %q, got %q", file, event.Path)
		}
	}
	if stale.Load() == 0 {
		t.Error("Listener was not invoked for the change")
	}
}

func TestManager_StopClosesSubscriptions(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sub := m.Subscribe()

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	if m.IsRunning() {
		t.Error("Manager should not be running after Shutdown()")
	}

	if _, err := sub.Next(context.Background()); err != ErrSubscriptionClosed {
		t.Errorf("Expected ErrSubscriptionClosed, got %v", err)
	}

	// Stop after Shutdown is a no-op.
	m.Stop()
}

package detectors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLeaseAcquireAndRelease(t *testing.T) {
	manager, err := NewLeaseManager(100)
	if err != nil {
		t.Fatalf("NewLeaseManager failed: %v", err)
	}

	release, err := manager.Acquire(context.Background(), 60)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if manager.InUseMB() != 60 {
		t.Fatalf("expected 60 MB in use, got %d", manager.InUseMB())
	}

	release()
	release() // double release must be a no-op
	if manager.InUseMB() != 0 {
		t.Fatalf("expected 0 MB after release, got %d", manager.InUseMB())
	}
}

func TestLeaseRejectsImpossibleSize(t *testing.T) {
	manager, _ := NewLeaseManager(100)

	_, err := manager.Acquire(context.Background(), 101)
	if !errors.Is(err, ErrLeaseTooLarge) {
		t.Fatalf("expected ErrLeaseTooLarge, got %v", err)
	}
}

func TestLeaseBlocksUntilCapacity(t *testing.T) {
	manager, _ := NewLeaseManager(100)

	release, err := manager.Acquire(context.Background(), 80)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := manager.Acquire(context.Background(), 50)
		if err != nil {
			t.Errorf("blocked Acquire failed: %v", err)
			close(acquired)
			return
		}
		defer second()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lease must block while budget is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lease never acquired after release")
	}
}

func TestLeaseTimesOutAsUnavailable(t *testing.T) {
	manager, _ := NewLeaseManager(100)
	release, _ := manager.Acquire(context.Background(), 100)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := manager.Acquire(ctx, 1)
	if !errors.Is(err, ErrLeaseUnavailable) {
		t.Fatalf("expected ErrLeaseUnavailable, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatal("lease exhaustion must be transient")
	}
}

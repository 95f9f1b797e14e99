package detectors

import (
	"context"
	"fmt"
	"sync"
)

// LeaseManager enforces a shared memory residency budget across adapters.
// Each evaluation acquires a lease sized by the model footprint first; when
// the budget is exhausted the caller blocks until capacity frees up or its
// context expires.
type LeaseManager struct {
	mu       sync.Mutex
	budgetMB int
	inUseMB  int
	changed  chan struct{}
}

// NewLeaseManager builds a manager with the given budget in megabytes.
func NewLeaseManager(budgetMB int) (*LeaseManager, error) {
	if budgetMB <= 0 {
		return nil, fmt.Errorf("memory budget must be positive, got %d", budgetMB)
	}
	return &LeaseManager{
		budgetMB: budgetMB,
		changed:  make(chan struct{}),
	}, nil
}

// Acquire blocks until sizeMB fits inside the budget and returns a release
// function. A size that can never fit fails immediately with ErrLeaseTooLarge;
// context expiry while waiting yields ErrLeaseUnavailable.
func (m *LeaseManager) Acquire(ctx context.Context, sizeMB int) (func(), error) {
	if sizeMB <= 0 {
		return nil, fmt.Errorf("lease size must be positive, got %d", sizeMB)
	}
	if sizeMB > m.budgetMB {
		return nil, fmt.Errorf("%w: %d MB against budget %d MB", ErrLeaseTooLarge, sizeMB, m.budgetMB)
	}

	m.mu.Lock()
	for m.inUseMB+sizeMB > m.budgetMB {
		wait := m.changed
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLeaseUnavailable, ctx.Err())
		case <-wait:
		}
		m.mu.Lock()
	}
	m.inUseMB += sizeMB
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			m.inUseMB -= sizeMB
			close(m.changed)
			m.changed = make(chan struct{})
			m.mu.Unlock()
		})
	}
	return release, nil
}

// InUseMB reports currently leased memory, mainly for introspection.
func (m *LeaseManager) InUseMB() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUseMB
}

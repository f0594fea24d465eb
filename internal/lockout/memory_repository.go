package lockout

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	attempts []LoginAttempt
	nextID   uint64
	mu       sync.RWMutex
}

// NewMemoryRepository returns a process-local Repository used by tests and
// local tooling.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Create(_ context.Context, attempt *LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	attempt.ID = r.nextID
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *memoryRepository) FailuresByEmail(_ context.Context, email string, since time.Time) ([]time.Time, error) {
	return r.failures(func(a LoginAttempt) bool { return a.Email == email }, since), nil
}

func (r *memoryRepository) FailuresByOrigin(_ context.Context, origin string, since time.Time) ([]time.Time, error) {
	return r.failures(func(a LoginAttempt) bool { return a.IPAddress == origin }, since), nil
}

func (r *memoryRepository) failures(match func(LoginAttempt) bool, since time.Time) []time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []time.Time
	for _, a := range r.attempts {
		if a.Success || !match(a) || !a.CreatedAt.After(since) {
			continue
		}
		if a.FailureReason != nil && *a.FailureReason == ReasonLocked {
			continue
		}
		out = append(out, a.CreatedAt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (r *memoryRepository) DeleteFailures(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.attempts[:0]
	for _, a := range r.attempts {
		if a.Email == email && !a.Success {
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return nil
}

func (r *memoryRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	kept := r.attempts[:0]
	for _, a := range r.attempts {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return removed, nil
}

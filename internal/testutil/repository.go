package testutil

import (
	"context"
	"errors"
	"sync"

	"checkin/internal/checkin"
)

// CountingRepository wraps a checkin.Repository and records the session
// calls the importer makes. Hooks inject failures.
type CountingRepository struct {
	checkin.Repository

	mu sync.Mutex
	// FlushPoints holds the number of Create calls seen at each Flush.
	FlushPoints []int
	Refreshes   int
	Creates     int

	// CreateErr, if set, is consulted before each Create is forwarded.
	CreateErr func(visit *checkin.Visit) error
	// FlushErr, if set, is consulted before each Flush is forwarded. A
	// failing flush behaves like a failed commit: the staged writes are
	// rolled back when the wrapped repository supports it.
	FlushErr func(n int) error
}

// NewCountingRepository wraps repo.
func NewCountingRepository(repo checkin.Repository) *CountingRepository {
	return &CountingRepository{Repository: repo}
}

func (r *CountingRepository) Create(ctx context.Context, visit *checkin.Visit, details *checkin.VisitDetails, flushNow bool) error {
	r.mu.Lock()
	r.Creates++
	hook := r.CreateErr
	r.mu.Unlock()

	if hook != nil {
		if err := hook(visit); err != nil {
			return err
		}
	}
	return r.Repository.Create(ctx, visit, details, flushNow)
}

func (r *CountingRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	r.FlushPoints = append(r.FlushPoints, r.Creates)
	n := len(r.FlushPoints)
	hook := r.FlushErr
	r.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			if rb, ok := r.Repository.(interface{ Rollback() error }); ok {
				if rbErr := rb.Rollback(); rbErr != nil {
					return errors.Join(err, rbErr)
				}
			}
			return err
		}
	}
	return r.Repository.Flush(ctx)
}

func (r *CountingRepository) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.Refreshes++
	r.mu.Unlock()
	return r.Repository.Refresh(ctx)
}

// Flushes returns a copy of the recorded flush points.
func (r *CountingRepository) Flushes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.FlushPoints...)
}

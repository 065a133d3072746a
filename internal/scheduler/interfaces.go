package scheduler

import (
	"context"
	"time"

	"github.com/anggakawa/teledocker/internal/store"
)

// SweepStore abstracts the store queries the sweeps select candidates with.
type SweepStore interface {
	ListIdleRunning(cutoff time.Time) ([]*store.Session, error)
	ListStoppedBefore(cutoff time.Time) ([]*store.Session, error)
}

// SessionManager abstracts the lifecycle transitions the scheduler requests.
// The manager re-checks every candidate under its own session lock; the
// scheduler only nominates.
type SessionManager interface {
	PauseIdle(ctx context.Context, id string, cutoff time.Time) error
	Destroy(ctx context.Context, id string) error
}

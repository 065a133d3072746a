package health

import (
	"context"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
)

// HealthStore abstracts the store query the monitor selects sessions with.
type HealthStore interface {
	ListSessions(ownerID, status string) ([]*store.Session, error)
}

// Prober classifies a session container's health. Satisfied by *engine.Client.
type Prober interface {
	Probe(ctx context.Context, ref engine.ProbeRef) engine.ProbeResult
}

// SessionManager receives failure verdicts. The monitor never transitions
// sessions itself.
type SessionManager interface {
	MarkError(id, detail string) error
}

package api

import (
	"context"

	"github.com/anggakawa/teledocker/internal/session"
)

// SessionService abstracts the session manager operations the handlers call.
type SessionService interface {
	Create(ctx context.Context, opts session.CreateOpts) (*session.Info, bool, error)
	Get(ctx context.Context, id string) (*session.Info, error)
	List(ctx context.Context, ownerID, status string) ([]*session.Info, error)
	Status(ctx context.Context, id string) (*session.StatusReport, error)
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) (*session.Info, error)
	Destroy(ctx context.Context, id string) error
	Prompt(ctx context.Context, id, prompt string, env map[string]string, events chan<- session.Event) error
	Shell(ctx context.Context, id, command string, events chan<- session.Event) error
	Exec(ctx context.Context, id, command string, events chan<- session.Event) error
	Upload(ctx context.Context, id, filename string, content []byte) (string, error)
	Download(ctx context.Context, id, path string) (string, []byte, error)
}

// QuotaReporter exposes admission counters for the status endpoint.
type QuotaReporter interface {
	Usage() (global, maxGlobal int, perOwner map[string]int)
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/anggakawa/teledocker/internal/bridge"
)

// BridgePinger checks the in-container agent over its control connection.
// Satisfied by *bridge.Client; a seam for tests.
type BridgePinger interface {
	Ping(ctx context.Context, containerName string) error
}

type ProbeVerdict int

const (
	// ProbeOK: the container is alive and, if running, the agent answered.
	ProbeOK ProbeVerdict = iota
	// ProbeUnreachable: the container is gone, not running, or the agent
	// did not answer at all.
	ProbeUnreachable
	// ProbeProtocol: the agent answered with something that is not the
	// control protocol. The process is up but wedged or foreign.
	ProbeProtocol
)

func (v ProbeVerdict) String() string {
	switch v {
	case ProbeOK:
		return "ok"
	case ProbeUnreachable:
		return "unreachable"
	case ProbeProtocol:
		return "protocol_error"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

type ProbeResult struct {
	Verdict ProbeVerdict
	Detail  string
}

// ProbeRef identifies the container to probe. The name is needed because
// the agent is dialed by its network alias, not the engine ID.
type ProbeRef struct {
	ContainerID   string
	ContainerName string
}

// Probe classifies a session container's health. A paused container is
// healthy by definition: its processes are frozen, so the agent cannot and
// need not answer. Only a running container gets its agent dialed.
func (c *Client) Probe(ctx context.Context, ref ProbeRef) ProbeResult {
	state, err := c.Inspect(ctx, ref.ContainerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ProbeResult{Verdict: ProbeUnreachable, Detail: "container missing"}
		}
		return ProbeResult{Verdict: ProbeUnreachable, Detail: err.Error()}
	}

	switch state {
	case StatePaused:
		return ProbeResult{Verdict: ProbeOK}
	case StateRunning:
		// fall through to the agent check
	default:
		return ProbeResult{Verdict: ProbeUnreachable, Detail: "container " + string(state)}
	}

	if c.pinger == nil {
		return ProbeResult{Verdict: ProbeOK}
	}

	if err := c.pinger.Ping(ctx, ref.ContainerName); err != nil {
		if errors.Is(err, bridge.ErrProtocol) {
			return ProbeResult{Verdict: ProbeProtocol, Detail: err.Error()}
		}
		return ProbeResult{Verdict: ProbeUnreachable, Detail: err.Error()}
	}
	return ProbeResult{Verdict: ProbeOK}
}

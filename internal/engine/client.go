// Package engine is the narrow adapter over the Docker Engine. Everything
// the daemon does to a container goes through it: provisioning, lifecycle
// flips, exec streaming, stats and liveness probes. It holds no session
// state and never touches the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"

	"github.com/anggakawa/teledocker/internal/config"
)

// Sentinel errors
var (
	// ErrNotFound means the engine has no such container or volume.
	ErrNotFound = errors.New("container not found")
	// ErrUnavailable means the engine did not answer: connection refused,
	// daemon down, or the per-call deadline expired after retries.
	ErrUnavailable = errors.New("engine unavailable")
)

const labelPrefix = "teledocker."

const (
	containerPrefix = "teledocker-"
	volumePrefix    = "teledocker-ws-"
)

// ContainerName returns the deterministic container name for a session. The
// name doubles as the DNS alias on the agent network, so the bridge client
// can dial ws://<name>:<port> without tracking addresses.
func ContainerName(sessionID string) string {
	return containerPrefix + sessionID
}

// VolumeName returns the workspace volume name for a session.
func VolumeName(sessionID string) string {
	return volumePrefix + sessionID
}

// Container state as reported by the engine.
type State string

const (
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateExited     State = "exited"
	StateCreated    State = "created"
	StateRestarting State = "restarting"
	StateDead       State = "dead"
)

type Client struct {
	docker     *client.Client
	sandbox    config.SandboxConfig
	apiTimeout time.Duration
	stopWait   int // seconds granted for graceful stop
	pinger     BridgePinger
	logger     *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger, pinger BridgePinger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Engine.Host != "" {
		opts = append(opts, client.WithHost(cfg.Engine.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{
		docker:     cli,
		sandbox:    cfg.Sandbox,
		apiTimeout: time.Duration(cfg.Engine.APITimeoutSeconds) * time.Second,
		stopWait:   cfg.Engine.StopTimeoutSeconds,
		pinger:     pinger,
		logger:     logger,
	}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.withRetry(ctx, "ping", func(ctx context.Context) error {
		_, err := c.docker.Ping(ctx)
		return err
	})
}

type CreateOpts struct {
	SessionID string
	OwnerID   string
	Env       map[string]string // merged over the static config env
	Labels    map[string]string
}

// Create provisions and starts a sandbox container for the session: named
// workspace volume at /workspace, tmpfs /tmp, resource caps, non-root user,
// no-new-privileges with all capabilities dropped, attached to the agent
// network under its deterministic name. Returns the engine container ID.
func (c *Client) Create(ctx context.Context, opts CreateOpts) (string, error) {
	name := ContainerName(opts.SessionID)
	volName := VolumeName(opts.SessionID)

	labels := map[string]string{
		labelPrefix + "managed": "true",
		labelPrefix + "session": opts.SessionID,
		labelPrefix + "owner":   opts.OwnerID,
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	if _, err := c.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   volName,
		Driver: "local",
		Labels: labels,
	}); err != nil {
		return "", mapEngineErr("volume create", err)
	}

	env := make([]string, 0, len(c.sandbox.Env)+len(opts.Env)+2)
	for k, v := range c.sandbox.Env {
		if _, override := opts.Env[k]; override {
			continue
		}
		env = append(env, k+"="+v)
	}
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		fmt.Sprintf("BRIDGE_PORT=%d", c.sandbox.BridgePort),
		fmt.Sprintf("WORKSPACE_QUOTA_MB=%d", c.sandbox.WorkspaceQuotaMB),
	)

	containerCfg := &container.Config{
		Image:    c.sandbox.Image,
		Hostname: name,
		Labels:   labels,
		Env:      env,
		User:     "1000:1000",
		Tty:      false,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs:  int64(c.sandbox.CPULimit * 1e9),
			Memory:    int64(c.sandbox.MemLimitMB) * units.MiB,
			PidsLimit: int64Ptr(int64(c.sandbox.PidsLimit)),
		},
		AutoRemove:    false,
		SecurityOpt:   []string{"no-new-privileges"},
		CapDrop:       []string{"ALL"},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: volName,
				Target: "/workspace",
			},
			{
				Type:   mount.TypeTmpfs,
				Target: "/tmp",
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: int64(c.sandbox.TmpfsSizeMB) * units.MiB,
				},
			},
		},
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			c.sandbox.Network: {},
		},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", mapEngineErr("container create", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := c.Remove(context.WithoutCancel(ctx), resp.ID, opts.SessionID); rmErr != nil {
			c.logger.Warn("cleanup after failed start", "session_id", opts.SessionID, "error", rmErr)
		}
		return "", mapEngineErr("container start", err)
	}

	return resp.ID, nil
}

// Start starts a stopped container.
func (c *Client) Start(ctx context.Context, containerID string) error {
	return c.withRetry(ctx, "container start", func(ctx context.Context) error {
		return c.docker.ContainerStart(ctx, containerID, container.StartOptions{})
	})
}

// Stop gracefully stops a container; stopping an already-stopped container
// succeeds. The engine grants stopWait seconds before killing.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	timeout := c.stopWait
	return c.withRetry(ctx, "container stop", func(ctx context.Context) error {
		return c.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	})
}

// Restart restarts a container process, keeping the container and volume.
func (c *Client) Restart(ctx context.Context, containerID string) error {
	timeout := c.stopWait
	return c.withRetry(ctx, "container restart", func(ctx context.Context) error {
		return c.docker.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout})
	})
}

// Pause freezes the container's processes. Pausing an already-paused
// container succeeds, which also makes a retried pause safe.
func (c *Client) Pause(ctx context.Context, containerID string) error {
	return c.withRetry(ctx, "container pause", func(ctx context.Context) error {
		err := c.docker.ContainerPause(ctx, containerID)
		if err != nil && strings.Contains(err.Error(), "already paused") {
			return nil
		}
		return err
	})
}

// Unpause thaws a paused container. Unpausing a running container succeeds.
func (c *Client) Unpause(ctx context.Context, containerID string) error {
	return c.withRetry(ctx, "container unpause", func(ctx context.Context) error {
		err := c.docker.ContainerUnpause(ctx, containerID)
		if err != nil && strings.Contains(err.Error(), "not paused") {
			return nil
		}
		return err
	})
}

// Remove force-removes the container and the session's workspace volume.
// Both being already gone counts as success: the desired end state, nothing
// exists, is satisfied either way.
func (c *Client) Remove(ctx context.Context, containerID, sessionID string) error {
	err := c.withRetry(ctx, "container remove", func(ctx context.Context) error {
		e := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		if e != nil && client.IsErrNotFound(e) {
			return nil
		}
		return e
	})
	if err != nil {
		return err
	}

	return c.withRetry(ctx, "volume remove", func(ctx context.Context) error {
		e := c.docker.VolumeRemove(ctx, VolumeName(sessionID), true)
		if e != nil && client.IsErrNotFound(e) {
			return nil
		}
		return e
	})
}

// Inspect returns the engine's view of the container state.
func (c *Client) Inspect(ctx context.Context, containerID string) (State, error) {
	var state State
	err := c.withRetry(ctx, "container inspect", func(ctx context.Context) error {
		info, e := c.docker.ContainerInspect(ctx, containerID)
		if e != nil {
			return e
		}
		state = State(info.State.Status)
		return nil
	})
	return state, err
}

// ManagedContainer is an engine container carrying our labels.
type ManagedContainer struct {
	ContainerID string
	SessionID   string
	OwnerID     string
	State       State
}

// ListManaged returns every container this daemon is responsible for,
// running or not. Used at startup to reconcile engine state against the
// store and to find orphans.
func (c *Client) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	var result []ManagedContainer
	err := c.withRetry(ctx, "container list", func(ctx context.Context) error {
		containers, e := c.docker.ContainerList(ctx, container.ListOptions{
			All:     true,
			Filters: f,
		})
		if e != nil {
			return e
		}
		result = result[:0]
		for _, ctr := range containers {
			sessionID := ctr.Labels[labelPrefix+"session"]
			if sessionID == "" {
				continue
			}
			result = append(result, ManagedContainer{
				ContainerID: ctr.ID,
				SessionID:   sessionID,
				OwnerID:     ctr.Labels[labelPrefix+"owner"],
				State:       State(ctr.State),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnsureImage pulls the sandbox image if it is not present locally. Pulling
// uses its own generous deadline; images can be large.
func (c *Client) EnsureImage(ctx context.Context) error {
	f := filters.NewArgs()
	f.Add("reference", c.sandbox.Image)

	var present bool
	err := c.withRetry(ctx, "image list", func(ctx context.Context) error {
		images, e := c.docker.ImageList(ctx, image.ListOptions{Filters: f})
		if e != nil {
			return e
		}
		present = len(images) > 0
		return nil
	})
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	c.logger.Info("pulling sandbox image", "image", c.sandbox.Image)
	pullCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	reader, err := c.docker.ImagePull(pullCtx, c.sandbox.Image, image.PullOptions{})
	if err != nil {
		return mapEngineErr("image pull", err)
	}
	defer reader.Close()

	// Drain pull output so the pull actually completes.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return mapEngineErr("image pull", err)
	}
	return nil
}

// EnsureNetwork creates the agent network if it does not exist yet.
func (c *Client) EnsureNetwork(ctx context.Context) error {
	return c.withRetry(ctx, "network ensure", func(ctx context.Context) error {
		_, err := c.docker.NetworkInspect(ctx, c.sandbox.Network, network.InspectOptions{})
		if err == nil {
			return nil
		}
		if !client.IsErrNotFound(err) {
			return err
		}
		c.logger.Info("creating agent network", "network", c.sandbox.Network)
		_, err = c.docker.NetworkCreate(ctx, c.sandbox.Network, network.CreateOptions{
			Driver: "bridge",
			Labels: map[string]string{labelPrefix + "managed": "true"},
		})
		return err
	})
}

// withRetry applies the per-call deadline and retries transient engine
// failures with exponential backoff. Only wrap idempotent operations in it.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
		lastErr = fn(opCtx)
		cancel()
		if lastErr == nil || !isTransient(lastErr) {
			return mapEngineErr(op, lastErr)
		}
		if ctx.Err() != nil {
			return mapEngineErr(op, ctx.Err())
		}
		if attempt < maxAttempts-1 {
			c.logger.Debug("engine call retry", "op", op, "attempt", attempt+1, "error", lastErr)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return mapEngineErr(op, ctx.Err())
			}
		}
	}
	return mapEngineErr(op, lastErr)
}

// isTransient reports whether the failure is worth a retry: the daemon not
// answering, or the per-call deadline expiring.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if client.IsErrConnectionFailed(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// mapEngineErr translates SDK failures into the adapter's error kinds.
// Caller cancellation passes through untouched; it is not an engine fault.
func mapEngineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	if errors.Is(err, context.DeadlineExceeded) || client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func int64Ptr(v int64) *int64 {
	return &v
}

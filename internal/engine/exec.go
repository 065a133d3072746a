package engine

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecStream runs cmd inside the container, writing demultiplexed output
// chunks to out as they arrive. It blocks until the command finishes or ctx
// is cancelled and returns the command's exit code. The caller owns out and
// closes it after ExecStream returns.
func (c *Client) ExecStream(ctx context.Context, containerID string, cmd []string, out chan<- []byte) (int, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/workspace",
	}

	createCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	execResp, err := c.docker.ContainerExecCreate(createCtx, containerID, execCfg)
	cancel()
	if err != nil {
		return 0, mapEngineErr("exec create", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, mapEngineErr("exec attach", err)
	}
	defer attach.Close()

	// Close the attach connection on cancellation so the copy below
	// unblocks even when the command is producing no output.
	copyDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			attach.Close()
		case <-copyDone:
		}
	}()

	w := &streamWriter{out: out, ctx: ctx}
	_, copyErr := stdcopy.StdCopy(w, w, attach.Reader)
	close(copyDone)

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if copyErr != nil {
		return 0, mapEngineErr("exec stream", copyErr)
	}

	// The stream closing does not mean the process has been reaped yet.
	// Poll briefly for the exit code.
	deadline := time.Now().Add(5 * time.Second)
	for {
		inspCtx, cancel := context.WithTimeout(context.Background(), c.apiTimeout)
		info, err := c.docker.ContainerExecInspect(inspCtx, execResp.ID)
		cancel()
		if err != nil {
			return 0, mapEngineErr("exec inspect", err)
		}
		if !info.Running {
			return info.ExitCode, nil
		}
		if time.Now().After(deadline) {
			return 0, mapEngineErr("exec inspect", context.DeadlineExceeded)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// streamWriter forwards write payloads to a channel, copying each chunk
// because stdcopy reuses its buffer.
type streamWriter struct {
	out chan<- []byte
	ctx context.Context
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case w.out <- chunk:
		return len(p), nil
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	}
}

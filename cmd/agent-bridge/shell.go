package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"github.com/anggakawa/teledocker/protocol"
)

// handleRunShell executes one shell command under a pty and streams its
// output as chunk frames at read granularity. stdout and stderr share the
// terminal, so chunks arrive in write order.
func (s *server) handleRunShell(ctx context.Context, fw *frameWriter, req protocol.Request) {
	if req.Params.Command == "" {
		fw.fail(req.ID, "command is required")
		return
	}

	cmd := exec.CommandContext(ctx, "sh", "-lc", req.Params.Command)
	cmd.Dir = s.workspace
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"HISTFILE=", // no history file
	)
	// pty.Start puts the child in its own session, so the process group id
	// equals the pid and the kill reaches every descendant.
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	ptmx, err := pty.Start(cmd)
	if err != nil {
		fw.fail(req.ID, "start shell: "+err.Error())
		return
	}
	defer ptmx.Close()
	pty.Setsize(ptmx, &pty.Winsize{Rows: 40, Cols: 120})

	var writeErr error
	buf := make([]byte, 32*1024)
	for {
		n, rerr := ptmx.Read(buf)
		if n > 0 && writeErr == nil {
			writeErr = fw.chunk(req.ID, string(buf[:n]))
		}
		if rerr != nil {
			break // EIO once the child exits
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			fw.fail(req.ID, fmt.Sprintf("command exited with status %d", exitErr.ExitCode()))
		} else {
			fw.fail(req.ID, "command failed: "+waitErr.Error())
		}
		return
	}
	if writeErr != nil {
		return
	}
	fw.done(req.ID)
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anggakawa/teledocker/protocol"
)

const (
	defaultAgentBinary = "claude"

	// State directory the agent CLI keeps on the workspace volume so that
	// conversations survive container restarts.
	agentStateDir = ".claude"

	// skipPermissionsFlag lets the agent run tool calls without interactive
	// approval; the container itself is the isolation boundary.
	skipPermissionsFlag = "--dangerously-skip-permissions"

	// Structured stream-json events can embed whole files.
	maxAgentLineBytes = 4 * 1024 * 1024

	stderrTailBytes = 4096
)

// agentRunner invokes the agent CLI for prompt execution. One runner per
// server; whether the next invocation continues the previous conversation
// is tracked here.
type agentRunner struct {
	binary    string
	workspace string

	// Serializes prompts. Concurrent runs would corrupt the shared
	// conversation state.
	mu        sync.Mutex
	continued bool
}

func newAgentRunner(binary, workspace string) *agentRunner {
	return &agentRunner{binary: binary, workspace: workspace}
}

func (r *agentRunner) args() []string {
	args := []string{skipPermissionsFlag}
	if r.continued {
		args = append(args, "--continue")
	}
	return append(args, "--print", "--output-format", "stream-json")
}

// run executes one prompt and calls emit for every non-empty line the agent
// prints. The prompt travels via stdin so its size and content never hit
// argv limits or shell interpretation.
func (r *agentRunner) run(ctx context.Context, prompt string, env map[string]string, emit func(line string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := exec.CommandContext(ctx, r.binary, r.args()...)
	cmd.Dir = r.workspace
	cmd.Env = overlayEnv(os.Environ(), env)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	// A conversation exists from here on, even if this prompt fails.
	r.continued = true

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxAgentLineBytes)

	var emitErr error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if emitErr == nil {
			emitErr = emit(line)
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// The agent may be blocked writing an oversized line; unblock
		// Wait by killing it.
		killProcessGroup(cmd)
	}

	waitErr := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if tail := stderr.String(); tail != "" {
				return fmt.Errorf("agent exited with status %d: %s", exitErr.ExitCode(), tail)
			}
			return fmt.Errorf("agent exited with status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("agent: %w", waitErr)
	case scanErr != nil:
		return fmt.Errorf("read agent output: %w", scanErr)
	case emitErr != nil:
		return emitErr
	}
	return nil
}

func (s *server) handleExecutePrompt(ctx context.Context, fw *frameWriter, req protocol.Request) {
	if req.Params.Prompt == "" {
		fw.fail(req.ID, "prompt is required")
		return
	}

	err := s.agent.run(ctx, req.Params.Prompt, req.Params.Env, func(line string) error {
		if event, ok := parseEventLine(line); ok {
			return fw.event(req.ID, event)
		}
		return fw.chunk(req.ID, line)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fw.fail(req.ID, err.Error())
		return
	}
	fw.done(req.ID)
}

// parseEventLine interprets one line of agent output as a structured event.
// The stream-json format emits one JSON object per line; anything else is
// passed through as plain text.
func parseEventLine(line string) (map[string]any, bool) {
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}
	var event map[string]any
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return nil, false
	}
	return event, true
}

// overlayEnv appends per-call overrides to the base environment. os/exec
// resolves duplicate keys to the last entry, so overrides shadow inherited
// values.
func overlayEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, len(base), len(base)+len(overrides))
	copy(env, base)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// killProcessGroup sends SIGKILL to the command's process group. Handlers
// start commands with Setpgid (or a pty session), so the negative pid
// reaches the children too.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

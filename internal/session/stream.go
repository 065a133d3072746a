package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/anggakawa/teledocker/protocol"
)

// EventKind discriminates stream events.
type EventKind int

const (
	// KindData carries a chunk of output text.
	KindData EventKind = iota
	// KindMeta carries a structured agent event, pre-marshaled to JSON.
	KindMeta
	// KindError terminates a stream with an upstream failure, verbatim.
	KindError
	// KindDone terminates a stream that completed cleanly. A stream never
	// emits KindDone after KindError, and a cancelled stream emits
	// neither.
	KindDone
)

func (k EventKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindMeta:
		return "meta"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one element of a session output stream.
type Event struct {
	Kind    EventKind
	Payload string // data chunk or marshaled meta event
	Detail  string // error detail for KindError
}

// Prompt runs a prompt through the session's agent, writing events to
// events until the stream terminates. It blocks for the duration of the
// stream. Failures before any output comes back are returned as errors;
// once output has started they surface in-band as a KindError event.
func (m *Manager) Prompt(ctx context.Context, id, prompt string, env map[string]string, events chan<- Event) error {
	sess, err := m.activate(ctx, id)
	if err != nil {
		return err
	}
	m.openStream(id)
	defer m.closeStream(id)

	req := &protocol.Request{
		ID:     uuid.NewString(),
		Method: protocol.MethodExecutePrompt,
		Params: protocol.Params{Prompt: prompt, Env: env},
	}
	err = m.streamFrames(ctx, sess.ContainerName, req, events)
	if err == nil {
		m.touch(id)
	}
	return err
}

// Shell runs a shell command through the agent with a pty, streaming
// output the same way Prompt does.
func (m *Manager) Shell(ctx context.Context, id, command string, events chan<- Event) error {
	sess, err := m.activate(ctx, id)
	if err != nil {
		return err
	}
	m.openStream(id)
	defer m.closeStream(id)

	req := &protocol.Request{
		ID:     uuid.NewString(),
		Method: protocol.MethodRunShell,
		Params: protocol.Params{Command: command},
	}
	err = m.streamFrames(ctx, sess.ContainerName, req, events)
	if err == nil {
		m.touch(id)
	}
	return err
}

// streamFrames drives one agent stream, translating protocol frames into
// events. Exactly one terminal event is emitted unless ctx is cancelled
// first.
func (m *Manager) streamFrames(ctx context.Context, containerName string, req *protocol.Request, events chan<- Event) error {
	frames := make(chan *protocol.Frame, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.bridge.Stream(ctx, containerName, req, frames)
	}()

	emit := func(ev Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sawOutput := false
	// handleFrame emits the event for one frame and reports whether it
	// terminated the stream.
	handleFrame := func(f *protocol.Frame) (bool, error) {
		switch {
		case f.Error != "":
			return true, emit(Event{Kind: KindError, Detail: f.Error})
		case f.Done:
			return true, emit(Event{Kind: KindDone})
		case f.Chunk != "":
			sawOutput = true
			return false, emit(Event{Kind: KindData, Payload: f.Chunk})
		case f.Event != nil:
			raw, err := json.Marshal(f.Event)
			if err != nil {
				return false, nil
			}
			sawOutput = true
			return false, emit(Event{Kind: KindMeta, Payload: string(raw)})
		default:
			return false, nil
		}
	}

	for {
		select {
		case f := <-frames:
			terminal, err := handleFrame(f)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		case err := <-errCh:
			// The producer is finished; frames it delivered before
			// returning may still sit in the buffer.
			for {
				select {
				case f := <-frames:
					terminal, emitErr := handleFrame(f)
					if emitErr != nil {
						return emitErr
					}
					if terminal {
						return nil
					}
					continue
				default:
				}
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				return nil
			}
			if sawOutput {
				emit(Event{Kind: KindError, Detail: err.Error()})
				return nil
			}
			return err
		}
	}
}

// Exec runs a command directly through the engine's exec channel, without
// the agent in the loop. Output arrives as data events; a clean completion
// emits the exit code as a meta event before done.
func (m *Manager) Exec(ctx context.Context, id, command string, events chan<- Event) error {
	sess, err := m.activate(ctx, id)
	if err != nil {
		return err
	}
	m.openStream(id)
	defer m.closeStream(id)

	emit := func(ev Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	out := make(chan []byte, 32)
	type execResult struct {
		code int
		err  error
	}
	resCh := make(chan execResult, 1)
	go func() {
		code, execErr := m.engine.ExecStream(ctx, sess.ContainerID, []string{"/bin/sh", "-c", command}, out)
		resCh <- execResult{code: code, err: execErr}
	}()

	sawOutput := false
	for {
		select {
		case chunk := <-out:
			sawOutput = true
			if err := emit(Event{Kind: KindData, Payload: string(chunk)}); err != nil {
				return err
			}
		case res := <-resCh:
			for {
				select {
				case chunk := <-out:
					sawOutput = true
					if err := emit(Event{Kind: KindData, Payload: string(chunk)}); err != nil {
						return err
					}
					continue
				default:
				}
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if res.err != nil {
				if sawOutput {
					emit(Event{Kind: KindError, Detail: res.err.Error()})
					return nil
				}
				return res.err
			}
			if err := emit(Event{Kind: KindMeta, Payload: fmt.Sprintf(`{"exit_code":%d}`, res.code)}); err != nil {
				return err
			}
			if err := emit(Event{Kind: KindDone}); err != nil {
				return err
			}
			m.touch(id)
			return nil
		}
	}
}

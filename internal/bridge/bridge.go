// Package bridge is the websocket client for the control agent running
// inside each sandbox container. The daemon dials the agent by the
// container's network alias, sends one request per connection and consumes
// the frames the agent answers with.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anggakawa/teledocker/protocol"
)

// Sentinel errors
var (
	// ErrHandshake means no control connection could be established: the
	// agent is not listening, not ready yet, or refused the upgrade.
	ErrHandshake = errors.New("agent handshake failed")
	// ErrProtocol means the agent answered with something that is not the
	// control protocol: binary frames, unparseable JSON, or frames for a
	// request it was never sent.
	ErrProtocol = errors.New("agent protocol error")
	// ErrConnClosed means an established connection dropped before the
	// agent finished answering.
	ErrConnClosed = errors.New("agent connection closed")
	// ErrUpstream carries an in-band error the agent reported, verbatim.
	ErrUpstream = errors.New("agent error")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Frames carry base64 file payloads, so the limit sits above the
	// transfer cap with room for encoding overhead.
	maxFrameBytes = 16 * 1024 * 1024

	dialAttempts = 3
	dialBackoff  = 500 * time.Millisecond
)

type Client struct {
	port   int
	logger *slog.Logger
}

func New(port int, logger *slog.Logger) *Client {
	return &Client{port: port, logger: logger}
}

func (c *Client) addr(containerName string) string {
	return fmt.Sprintf("ws://%s:%d/", containerName, c.port)
}

// conn is a single-request control connection. It lives exactly as long as
// the context it was dialed under.
type conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// dial opens a control connection, retrying briefly on refusal. The
// returned connection is torn down when ctx is cancelled.
func (c *Client) dial(ctx context.Context, containerName string) (*conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := c.addr(containerName)

	var ws *websocket.Conn
	var err error
	backoff := dialBackoff
	for attempt := 0; attempt < dialAttempts; attempt++ {
		ws, _, err = dialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < dialAttempts-1 {
			c.logger.Debug("agent dial retry", "container", containerName, "attempt", attempt+1, "error", err)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHandshake, containerName, err)
	}

	ws.SetReadLimit(maxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cn := &conn{ws: ws, closed: make(chan struct{})}

	// Unblock any pending read when the caller gives up.
	go func() {
		select {
		case <-ctx.Done():
			ws.SetReadDeadline(time.Now())
			ws.Close()
		case <-cn.closed:
		}
	}()
	go cn.pingLoop()

	return cn, nil
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// pingLoop keeps long idle streams alive; the agent's pongs refresh our
// read deadline via the pong handler.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *conn) send(req *protocol.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return nil
}

// next reads one frame and checks it belongs to the given request.
func (c *conn) next(ctx context.Context, requestID string) (*protocol.Frame, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected binary frame", ErrProtocol)
	}

	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if frame.ID != requestID {
		return nil, fmt.Errorf("%w: frame for unknown request %q", ErrProtocol, frame.ID)
	}
	return &frame, nil
}

// Call performs a unary request: upload, download, health. Chunk frames
// arriving before the terminal one are skipped. An in-band error frame
// becomes ErrUpstream carrying the agent's message verbatim.
func (c *Client) Call(ctx context.Context, containerName string, req *protocol.Request) (*protocol.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	cn, err := c.dial(ctx, containerName)
	if err != nil {
		return nil, err
	}
	defer cn.close()

	if err := cn.send(req); err != nil {
		return nil, err
	}

	for {
		frame, err := cn.next(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, frame.Error)
		}
		if frame.Done {
			return frame.Result, nil
		}
	}
}

// Stream performs a streaming request, delivering every frame for it to
// frames in arrival order, the terminal frame included. It returns nil once
// the agent terminates the stream and an error only when the transport or
// protocol breaks first. The caller owns the channel.
func (c *Client) Stream(ctx context.Context, containerName string, req *protocol.Request, frames chan<- *protocol.Frame) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	cn, err := c.dial(ctx, containerName)
	if err != nil {
		return err
	}
	defer cn.close()

	if err := cn.send(req); err != nil {
		return err
	}

	for {
		frame, err := cn.next(ctx, req.ID)
		if err != nil {
			return err
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
		if frame.Terminal() {
			return nil
		}
	}
}

// Ping checks agent liveness with a health request. Any answer that is not
// a clean ok status comes back as ErrProtocol: the agent responded, but
// wrongly. A missing answer surfaces as ErrHandshake or ErrConnClosed.
func (c *Client) Ping(ctx context.Context, containerName string) error {
	req := &protocol.Request{ID: uuid.NewString(), Method: protocol.MethodHealthCheck}
	result, err := c.Call(ctx, containerName, req)
	if err != nil {
		if errors.Is(err, ErrUpstream) {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return err
	}
	if result == nil || result.Status != protocol.HealthStatusOK {
		status := ""
		if result != nil {
			status = result.Status
		}
		return fmt.Errorf("%w: health status %q", ErrProtocol, status)
	}
	return nil
}

// WaitReady polls the agent until it answers a health check, backing off
// from half a second. Used right after container start, when the agent is
// still coming up.
func (c *Client) WaitReady(ctx context.Context, containerName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	delay := 500 * time.Millisecond

	var lastErr error
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = c.Ping(pingCtx, containerName)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: agent not ready after %s: %v", ErrHandshake, timeout, lastErr)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if delay < 4*time.Second {
			delay *= 2
		}
	}
}

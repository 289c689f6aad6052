// Package transport implements the framed duplex channel between the
// orchestrator and a subprocess (agent or tool server). Frames are
// line-delimited JSON-RPC on the subprocess stdin/stdout; stderr is drained
// into the log. Each channel carries at most one in-flight request, so
// responses correlate by sequence ID with strict FIFO as a backstop.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sceneloop/internal/protocol"
)

// State tracks the channel lifecycle: Uninitialized until the handshake
// completes, Ready while calls may be issued, Closed after teardown.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultCallTimeout      = 120 * time.Second
	defaultHandshakeTimeout = 15 * time.Second

	// Rendered-scene descriptions can be large; give the scanner room.
	maxFrameBytes = 8 << 20
)

// Options configure a channel. Zero values fall back to defaults.
type Options struct {
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration
	ClientName       string
	Logger           *zap.Logger
}

func (o *Options) fill() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ClientName == "" {
		o.ClientName = "sceneloop"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Channel is a message-framed duplex connection to one subprocess.
type Channel struct {
	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[int64]chan *protocol.Response
	nextID  int64

	// callMu serializes Call: the wire contract is one outstanding request
	// per channel.
	callMu sync.Mutex

	opts   Options
	server protocol.InitializeResult

	done      chan struct{}
	closeOnce sync.Once
	grp       *errgroup.Group
}

// Spawn starts command with args, wires its stdio into a channel, and runs
// the initialize handshake. On handshake failure the subprocess is torn down
// before returning.
func Spawn(ctx context.Context, command string, args []string, opts Options) (*Channel, error) {
	opts.fill()

	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	ch := newChannel(stdin, stdout, stderr, opts)
	ch.cmd = cmd

	if err := ch.Handshake(ctx); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// NewFromStreams builds a channel over already-open streams. Used when the
// peer is not a subprocess (in-process servers, tests). The caller must run
// Handshake before issuing calls. stderr may be nil.
func NewFromStreams(stdin io.WriteCloser, stdout io.ReadCloser, stderr io.ReadCloser, opts Options) *Channel {
	opts.fill()
	return newChannel(stdin, stdout, stderr, opts)
}

func newChannel(stdin io.WriteCloser, stdout, stderr io.ReadCloser, opts Options) *Channel {
	ch := &Channel{
		state:   StateUninitialized,
		stdin:   stdin,
		pending: make(map[int64]chan *protocol.Response),
		nextID:  1,
		opts:    opts,
		done:    make(chan struct{}),
		grp:     &errgroup.Group{},
	}
	ch.grp.Go(func() error {
		ch.readLoop(stdout)
		return nil
	})
	if stderr != nil {
		ch.grp.Go(func() error {
			ch.drainStderr(stderr)
			return nil
		})
	}
	return ch
}

// Handshake negotiates protocol version and capabilities. The channel moves
// to Ready on success. Bounded by the handshake timeout, reported as
// ErrHandshakeTimeout rather than a plain call timeout.
func (c *Channel) Handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	raw, err := c.call(hctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientName:      c.opts.ClientName,
	}, c.opts.HandshakeTimeout)
	if err != nil {
		if hctx.Err() != nil || errors.Is(err, ErrCallTimeout) {
			return fmt.Errorf("%w: %s", ErrHandshakeTimeout, c.opts.HandshakeTimeout)
		}
		return err
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("handshake result: %w", err)
	}
	if result.ProtocolVersion != protocol.ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: server %q, client %q",
			result.ProtocolVersion, protocol.ProtocolVersion)
	}

	c.mu.Lock()
	c.server = result
	if c.state == StateUninitialized {
		c.state = StateReady
	}
	c.mu.Unlock()

	c.opts.Logger.Debug("channel ready",
		zap.String("server", result.ServerName),
		zap.Strings("capabilities", result.Capabilities))
	return nil
}

// ServerName reports the peer's self-declared name from the handshake.
func (c *Channel) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.ServerName
}

// Capabilities reports the capability names declared during the handshake.
func (c *Channel) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	caps := make([]string, len(c.server.Capabilities))
	copy(caps, c.server.Capabilities)
	return caps
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Call sends one request and waits for its matching response. Protocol-level
// failures come back as *protocol.Error; channel-level failures as the
// sentinel errors in this package.
func (c *Channel) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if c.state != StateReady {
		c.mu.Unlock()
		return nil, fmt.Errorf("channel not ready: %s", c.state)
	}
	c.mu.Unlock()
	return c.call(ctx, method, params, c.opts.CallTimeout)
}

func (c *Channel) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrChannelBroken
	default:
	}

	id := c.nextID
	c.nextID++
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	waiter := make(chan *protocol.Response, 1)
	c.pending[id] = waiter

	frame, err := json.Marshal(req)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := c.stdin.Write(append(frame, '\n')); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: write: %v", ErrChannelBroken, err)
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		if resp == nil {
			return nil, ErrChannelBroken
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		c.forget(id)
		c.opts.Logger.Warn("call timed out",
			zap.String("method", method), zap.Duration("timeout", timeout))
		return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, method, timeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Channel) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) readLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.opts.Logger.Warn("unparseable frame from peer", zap.Error(err))
			continue
		}
		c.mu.Lock()
		waiter, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.opts.Logger.Warn("response for unknown request", zap.Int64("id", resp.ID))
			continue
		}
		waiter <- &resp
	}

	// EOF or read error: the peer is gone. Fail every waiter.
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	for id, waiter := range c.pending {
		close(waiter)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Channel) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.opts.Logger.Debug("peer stderr", zap.String("line", scanner.Text()))
	}
}

// Close tears the channel down: kills the subprocess if one was spawned,
// closes the write side, and reaps the reader goroutines. Safe to call more
// than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		select {
		case <-c.done:
		default:
			close(c.done)
		}
		cmd := c.cmd
		stdin := c.stdin
		c.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}

		reaped := make(chan struct{})
		go func() {
			_ = c.grp.Wait()
			close(reaped)
		}()
		select {
		case <-reaped:
		case <-time.After(2 * time.Second):
			c.opts.Logger.Warn("timed out reaping channel goroutines")
		}

		if cmd != nil {
			_ = cmd.Wait()
		}
	})
	return nil
}

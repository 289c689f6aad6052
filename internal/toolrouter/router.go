// Package toolrouter maps capability names to live transport channels and
// exposes a uniform invoke interface to agent logic. The router knows nothing
// about individual capabilities; adding one is registering a new name.
package toolrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sceneloop/internal/protocol"
	"sceneloop/internal/transport"
)

// Sentinel errors surfaced to callers. Tool failures are typed rather than
// swallowed; the verifier logic decides whether they sink the round.
var (
	ErrUnknownCapability = errors.New("toolrouter: unknown capability")
	ErrToolTimeout       = errors.New("toolrouter: tool call timed out")
	ErrToolProcess       = errors.New("toolrouter: tool process failed")
)

// Caller is the slice of transport.Channel the router needs. Satisfied by
// *transport.Channel; narrowed for testability.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// Router routes capability invocations to their channels. One verifier
// session owns a router at a time; channels each serialize their own calls,
// so no cross-call locking is needed beyond the registration map.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Caller
	logger   *zap.Logger
}

// New creates an empty router.
func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{channels: make(map[string]Caller), logger: logger}
}

// Register binds a capability name to a channel, replacing any previous
// binding for that name.
func (r *Router) Register(capability string, ch Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[capability] = ch
}

// Capabilities lists the registered capability names.
func (r *Router) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Has reports whether a capability is registered.
func (r *Router) Has(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[capability]
	return ok
}

// Invoke calls a capability with the given arguments. An unregistered name
// fails with ErrUnknownCapability before anything touches a channel. Channel
// failures surface as ErrToolTimeout or ErrToolProcess.
func (r *Router) Invoke(ctx context.Context, capability string, args any) (json.RawMessage, error) {
	r.mu.RLock()
	ch, ok := r.channels[capability]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal tool args: %w", err)
	}

	result, err := ch.Call(ctx, protocol.MethodToolsCall, protocol.ToolCallParams{
		Name:      capability,
		Arguments: raw,
	})
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrCallTimeout):
			return nil, fmt.Errorf("%w: %s", ErrToolTimeout, capability)
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrToolProcess, capability, err)
		}
	}

	r.logger.Debug("tool call completed", zap.String("capability", capability))
	return result, nil
}

// Close tears down every registered channel. Later registrations of the same
// channel under multiple names close once per distinct channel.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Caller]bool)
	var firstErr error
	for name, ch := range r.channels {
		if !seen[ch] {
			seen[ch] = true
			if err := ch.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(r.channels, name)
	}
	return firstErr
}

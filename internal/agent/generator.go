// Package agent provides the typed client façades over transport channels to
// the generator and verifier processes. Each client owns its channel and its
// remote session handle; the orchestrator owns lockstep discipline.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sceneloop/internal/config"
	"sceneloop/internal/protocol"
)

// Caller is the transport slice the clients need. Satisfied by
// *transport.Channel.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// GeneratorClient drives a generator agent process.
type GeneratorClient struct {
	mu        sync.Mutex
	ch        Caller
	sessionID string
	closed    bool
	logger    *zap.Logger
}

// NewGenerator wraps an established channel to a generator process.
func NewGenerator(ch Caller, logger *zap.Logger) *GeneratorClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneratorClient{ch: ch, logger: logger}
}

// CreateSession validates the configuration, creates the remote session, and
// caches the returned handle. Validation failures report every missing field
// in one *config.ValidationError.
func (g *GeneratorClient) CreateSession(ctx context.Context, params protocol.SessionCreateParams) (string, error) {
	params.Role = protocol.RoleGenerator
	if err := validateSessionParams(params, true); err != nil {
		return "", err
	}

	raw, err := g.ch.Call(ctx, protocol.MethodSessionCreate, params)
	if err != nil {
		return "", fmt.Errorf("create generator session: %w", err)
	}
	var result protocol.SessionCreateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("create generator session: %w", err)
	}

	g.mu.Lock()
	g.sessionID = result.SessionID
	g.mu.Unlock()

	g.logger.Info("generator session created", zap.String("session", result.SessionID))
	return result.SessionID, nil
}

// ProduceArtifact asks for the next artifact. feedback is nil on round 1;
// afterwards it carries the previous round's judgment, which the server
// appends to history before generating. Two calls without intervening
// feedback are legal and yield independent generations.
func (g *GeneratorClient) ProduceArtifact(ctx context.Context, feedback *protocol.Feedback) (protocol.Artifact, error) {
	sessionID, err := g.session()
	if err != nil {
		return protocol.Artifact{}, err
	}

	raw, err := g.ch.Call(ctx, protocol.MethodGenerate, protocol.GenerateParams{
		SessionID: sessionID,
		Feedback:  feedback,
	})
	if err != nil {
		return protocol.Artifact{}, mapSessionError(err, "produce artifact")
	}

	var result protocol.GenerateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return protocol.Artifact{}, fmt.Errorf("produce artifact: %w", err)
	}
	g.logger.Debug("artifact produced", zap.Int("remote_round", result.Round),
		zap.Int("code_bytes", len(result.Artifact.Code)))
	return result.Artifact, nil
}

// Close releases the remote session and the channel. Idempotent: the second
// and later calls are no-ops.
func (g *GeneratorClient) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	sessionID := g.sessionID
	g.mu.Unlock()

	if sessionID != "" {
		ctx, cancel := closeContext()
		defer cancel()
		if _, err := g.ch.Call(ctx, protocol.MethodSessionClose, protocol.SessionCloseParams{SessionID: sessionID}); err != nil {
			g.logger.Warn("generator session close failed", zap.Error(err))
		}
	}
	return g.ch.Close()
}

func (g *GeneratorClient) session() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.sessionID == "" {
		return "", ErrInvalidSession
	}
	return g.sessionID, nil
}

// validateSessionParams mirrors the server-side check so a bad config never
// costs a round trip. requireInitialCode distinguishes the generator, which
// must start from an initial artifact.
func validateSessionParams(params protocol.SessionCreateParams, requireInitialCode bool) error {
	var fields []string
	if params.VisionModel == "" {
		fields = append(fields, "visionModel: required")
	}
	if params.CredentialRef == "" {
		fields = append(fields, "credentialRef: required")
	}
	if requireInitialCode && params.InitialCode == "" {
		fields = append(fields, "initialCode: required")
	}
	if params.TargetImageRef == "" {
		fields = append(fields, "targetImageRef: required")
	}
	if params.RoundLimit < 1 {
		fields = append(fields, "roundLimit: must be >= 1")
	}
	if len(fields) > 0 {
		return &config.ValidationError{Fields: fields}
	}
	return nil
}

// mapSessionError converts the server's invalid-session code into the
// client-side sentinel.
func mapSessionError(err error, op string) error {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.Code == protocol.CodeInvalidSession {
		return fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Package agentd is the server side of an agent process: the session
// registry, the vision-model calls, and the method handlers the framed stdio
// server dispatches to. One process serves one role, generator or verifier.
package agentd

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sceneloop/internal/protocol"
	"sceneloop/internal/rpc"
	"sceneloop/internal/session"
	"sceneloop/internal/vision"
)

// Daemon holds the per-process state behind the method handlers.
type Daemon struct {
	role      protocol.Role
	store     *session.Store
	completer vision.Completer
	logger    *zap.Logger
}

// New creates a daemon for one role. completer may be nil; it is then built
// lazily from the session's model and credential on first use.
func New(role protocol.Role, completer vision.Completer, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		role:      role,
		store:     session.NewStore(),
		completer: completer,
		logger:    logger,
	}
}

// Capabilities lists the method names this role serves, for the handshake.
func (d *Daemon) Capabilities() []string {
	caps := []string{protocol.MethodSessionCreate, protocol.MethodSessionClose}
	if d.role == protocol.RoleGenerator {
		return append(caps, protocol.MethodGenerate)
	}
	return append(caps, protocol.MethodJudge)
}

// Register attaches the role's handlers to the server.
func (d *Daemon) Register(s *rpc.Server) {
	s.Handle(protocol.MethodSessionCreate, d.handleSessionCreate)
	s.Handle(protocol.MethodSessionClose, d.handleSessionClose)
	switch d.role {
	case protocol.RoleGenerator:
		s.Handle(protocol.MethodGenerate, d.handleGenerate)
	case protocol.RoleVerifier:
		s.Handle(protocol.MethodJudge, d.handleJudge)
	}
}

func (d *Daemon) handleSessionCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.SessionCreateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad session params"}
	}
	if msg := validateCreate(params, d.role); msg != "" {
		return nil, &protocol.Error{Code: protocol.CodeInvalidConfig, Message: msg}
	}

	sess := session.New(params)
	if d.role == protocol.RoleGenerator {
		sess.Append(session.Entry{
			Kind:     session.EntryArtifact,
			Round:    0,
			Artifact: &protocol.Artifact{Code: params.InitialCode},
		})
	}
	d.store.Add(sess)

	d.logger.Info("session created", zap.String("session", sess.ID()),
		zap.String("role", string(d.role)), zap.String("model", params.VisionModel))
	return protocol.SessionCreateResult{SessionID: sess.ID()}, nil
}

func (d *Daemon) handleSessionClose(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.SessionCloseParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad close params"}
	}
	if err := d.store.Remove(params.SessionID); err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidSession,
			Message: fmt.Sprintf("unknown session %s", params.SessionID)}
	}
	d.logger.Info("session closed", zap.String("session", params.SessionID))
	return map[string]string{"status": "closed"}, nil
}

func (d *Daemon) handleGenerate(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.GenerateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad generate params"}
	}
	sess, err := d.store.Get(params.SessionID)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidSession, Message: err.Error()}
	}

	if params.Feedback != nil {
		sess.Append(session.Entry{
			Kind:     session.EntryFeedback,
			Round:    params.Feedback.Round,
			Feedback: params.Feedback,
		})
	}

	completer, err := d.completerFor(ctx, sess)
	if err != nil {
		return nil, err
	}

	cfg := sess.Config()
	prompt := generatePrompt(cfg, sess.History())
	text, err := completer.Complete(ctx, prompt, []string{cfg.TargetImageRef})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	round := sess.NextRound()
	artifact := protocol.Artifact{Code: extractCode(text), Rationale: extractRationale(text)}
	sess.Append(session.Entry{Kind: session.EntryArtifact, Round: round, Artifact: &artifact})

	d.logger.Debug("artifact generated", zap.String("session", sess.ID()),
		zap.Int("round", round), zap.Int("code_bytes", len(artifact.Code)))
	return protocol.GenerateResult{Artifact: artifact, Round: round}, nil
}

func (d *Daemon) handleJudge(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.JudgeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad judge params"}
	}
	sess, err := d.store.Get(params.SessionID)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidSession, Message: err.Error()}
	}

	if len(params.Evidence) > 0 {
		sess.Append(session.Entry{
			Kind:     session.EntryEvidence,
			Round:    params.Round,
			Evidence: params.Evidence,
		})
	}

	completer, err := d.completerFor(ctx, sess)
	if err != nil {
		return nil, err
	}

	cfg := sess.Config()
	prompt := judgePrompt(cfg, params, sess.History())
	text, err := completer.Complete(ctx, prompt, []string{params.RenderRef, cfg.TargetImageRef})
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}

	result, err := parseVerdict(text)
	if err != nil {
		d.logger.Warn("unparseable verdict, treating as continue",
			zap.String("session", sess.ID()), zap.Error(err))
		result = protocol.JudgeResult{Critique: text}
	}

	sess.Append(session.Entry{
		Kind:  session.EntryFeedback,
		Round: params.Round,
		Feedback: &protocol.Feedback{
			Status:   verdictStatus(result),
			Critique: result.Critique,
			Score:    result.Score,
			Round:    params.Round,
		},
	})
	return result, nil
}

// completerFor returns the process-wide completer or builds one from the
// session's configured model and credential.
func (d *Daemon) completerFor(ctx context.Context, sess *session.Session) (vision.Completer, error) {
	if d.completer != nil {
		return d.completer, nil
	}
	cfg := sess.Config()
	client, err := vision.NewGenAIClient(ctx, cfg.VisionModel, cfg.CredentialRef)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInvalidConfig, Message: err.Error()}
	}
	return client, nil
}

func verdictStatus(r protocol.JudgeResult) protocol.FeedbackStatus {
	if r.Match {
		return protocol.StatusEnd
	}
	return protocol.StatusContinue
}

// validateCreate is the server-side mirror of the client check. It returns
// a joined message naming every missing field, or "" when valid.
func validateCreate(params protocol.SessionCreateParams, role protocol.Role) string {
	var missing []string
	if params.Role != role {
		missing = append(missing, fmt.Sprintf("role: got %q, this process serves %q", params.Role, role))
	}
	if params.VisionModel == "" {
		missing = append(missing, "visionModel: required")
	}
	if params.CredentialRef == "" {
		missing = append(missing, "credentialRef: required")
	}
	if role == protocol.RoleGenerator && params.InitialCode == "" {
		missing = append(missing, "initialCode: required")
	}
	if params.TargetImageRef == "" {
		missing = append(missing, "targetImageRef: required")
	}
	if params.RoundLimit < 1 {
		missing = append(missing, "roundLimit: must be >= 1")
	}
	if len(missing) == 0 {
		return ""
	}
	msg := missing[0]
	for _, m := range missing[1:] {
		msg += "; " + m
	}
	return msg
}

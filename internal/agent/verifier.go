package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sceneloop/internal/protocol"
	"sceneloop/internal/toolrouter"
)

// Capability names the verifier knows how to use.
const (
	CapabilityCompareImages    = "compare_images"
	CapabilityInvestigateScene = "investigate_scene"
)

// maxInvestigationPasses bounds how many times one judgment may loop back
// for more camera views before the verdict stands as-is.
const maxInvestigationPasses = 2

// VerifierClient drives a verifier agent process and its session-scoped tool
// router. The router's channels hold camera state tied to this run's
// rendering context, so they live and die with the session.
type VerifierClient struct {
	mu        sync.Mutex
	ch        Caller
	router    *toolrouter.Router
	sessionID string
	closed    bool

	targetRef string
	threshold float64
	logger    *zap.Logger
}

// NewVerifier wraps an established channel to a verifier process. router may
// be empty; judgment then relies on the model alone.
func NewVerifier(ch Caller, router *toolrouter.Router, logger *zap.Logger) *VerifierClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if router == nil {
		router = toolrouter.New(logger)
	}
	return &VerifierClient{ch: ch, router: router, logger: logger}
}

// Router exposes the session-scoped tool router for capability registration
// at session creation.
func (v *VerifierClient) Router() *toolrouter.Router { return v.router }

// CreateSession validates the configuration and creates the remote session.
func (v *VerifierClient) CreateSession(ctx context.Context, params protocol.SessionCreateParams) (string, error) {
	params.Role = protocol.RoleVerifier
	if err := validateSessionParams(params, false); err != nil {
		return "", err
	}

	raw, err := v.ch.Call(ctx, protocol.MethodSessionCreate, params)
	if err != nil {
		return "", fmt.Errorf("create verifier session: %w", err)
	}
	var result protocol.SessionCreateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("create verifier session: %w", err)
	}

	v.mu.Lock()
	v.sessionID = result.SessionID
	v.targetRef = params.TargetImageRef
	v.threshold = params.ScoreThreshold
	v.mu.Unlock()

	v.logger.Info("verifier session created", zap.String("session", result.SessionID),
		zap.Strings("capabilities", v.router.Capabilities()))
	return result.SessionID, nil
}

// Judge compares the rendered artifact against the target. Tool evidence is
// gathered first; tool failures degrade the judgment instead of aborting it.
// round is audit metadata recorded in the returned Feedback, trusted as
// supplied by the caller.
//
// Convergence is dual-triggered: a similarity score at or above the
// configured threshold ends the loop on its own, and an explicit model match
// ends it even when the score falls short. Either signal alone is known to
// have false negatives.
func (v *VerifierClient) Judge(ctx context.Context, renderRef string, round int) (protocol.Feedback, error) {
	sessionID, err := v.session()
	if err != nil {
		return protocol.Feedback{}, err
	}

	v.mu.Lock()
	targetRef, threshold := v.targetRef, v.threshold
	v.mu.Unlock()

	evidence, degraded := v.gatherCompareEvidence(ctx, renderRef, targetRef)

	var result protocol.JudgeResult
	for pass := 0; ; pass++ {
		raw, err := v.ch.Call(ctx, protocol.MethodJudge, protocol.JudgeParams{
			SessionID: sessionID,
			RenderRef: renderRef,
			Round:     round,
			Evidence:  evidence,
			Degraded:  degraded,
		})
		if err != nil {
			return protocol.Feedback{}, mapSessionError(err, "judge")
		}
		result = protocol.JudgeResult{}
		if err := json.Unmarshal(raw, &result); err != nil {
			return protocol.Feedback{}, fmt.Errorf("judge: %w", err)
		}

		if result.Match || len(result.Investigate) == 0 || pass >= maxInvestigationPasses {
			break
		}
		views, ok := v.investigate(ctx, result.Investigate)
		if !ok {
			degraded = true
			break
		}
		evidence = append(evidence, views...)
	}

	return v.resolve(result, evidence, threshold, round), nil
}

// gatherCompareEvidence invokes compare_images when registered. A failed
// tool call is logged and omitted; the round goes on with what we have.
func (v *VerifierClient) gatherCompareEvidence(ctx context.Context, renderRef, targetRef string) ([]protocol.Evidence, bool) {
	if !v.router.Has(CapabilityCompareImages) {
		return nil, false
	}

	raw, err := v.router.Invoke(ctx, CapabilityCompareImages, protocol.CompareImagesArgs{
		CurrentRef: renderRef,
		TargetRef:  targetRef,
	})
	if err != nil {
		v.logger.Warn("image comparison unavailable this round", zap.Error(err))
		return nil, true
	}

	var cmp protocol.CompareImagesResult
	if err := json.Unmarshal(raw, &cmp); err != nil {
		v.logger.Warn("image comparison returned malformed result", zap.Error(err))
		return nil, true
	}

	score := cmp.Score
	return []protocol.Evidence{{
		Capability: CapabilityCompareImages,
		Summary:    cmp.Description,
		Score:      &score,
	}}, false
}

// investigate executes camera directives requested by the model and turns
// the resulting views into evidence. Returns ok=false when no view could be
// gathered at all.
func (v *VerifierClient) investigate(ctx context.Context, directives []protocol.CameraDirective) ([]protocol.Evidence, bool) {
	if !v.router.Has(CapabilityInvestigateScene) {
		return nil, false
	}

	var views []protocol.Evidence
	for _, d := range directives {
		raw, err := v.router.Invoke(ctx, CapabilityInvestigateScene, d)
		if err != nil {
			v.logger.Warn("scene investigation failed",
				zap.String("op", string(d.Op)), zap.Error(err))
			continue
		}
		var view protocol.CameraResult
		if err := json.Unmarshal(raw, &view); err != nil {
			continue
		}
		views = append(views, protocol.Evidence{
			Capability: CapabilityInvestigateScene,
			Summary:    fmt.Sprintf("%s view: %s", d.Op, view.ViewRef),
		})
	}
	return views, len(views) > 0
}

// resolve applies the dual-trigger policy. The threshold comparison is
// inclusive: score >= threshold converges.
func (v *VerifierClient) resolve(result protocol.JudgeResult, evidence []protocol.Evidence, threshold float64, round int) protocol.Feedback {
	score := result.Score
	if score == nil {
		for _, e := range evidence {
			if e.Capability == CapabilityCompareImages && e.Score != nil {
				score = e.Score
				break
			}
		}
	}

	scoreTrigger := score != nil && threshold > 0 && *score >= threshold
	if result.Match || scoreTrigger {
		return protocol.Feedback{Status: protocol.StatusEnd, Score: score, Evidence: evidence, Round: round}
	}

	critique := result.Critique
	if critique == "" {
		critique = "rendered result does not match the target yet"
	}
	return protocol.Feedback{
		Status:   protocol.StatusContinue,
		Critique: critique,
		Score:    score,
		Evidence: evidence,
		Round:    round,
	}
}

// Close releases the remote session, the tool channels, and the agent
// channel. Idempotent.
func (v *VerifierClient) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	sessionID := v.sessionID
	v.mu.Unlock()

	if sessionID != "" {
		ctx, cancel := closeContext()
		defer cancel()
		if _, err := v.ch.Call(ctx, protocol.MethodSessionClose, protocol.SessionCloseParams{SessionID: sessionID}); err != nil {
			v.logger.Warn("verifier session close failed", zap.Error(err))
		}
	}
	if err := v.router.Close(); err != nil {
		v.logger.Warn("tool router close failed", zap.Error(err))
	}
	return v.ch.Close()
}

func (v *VerifierClient) session() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.sessionID == "" {
		return "", ErrInvalidSession
	}
	return v.sessionID, nil
}

// closeContext bounds the best-effort session/close exchange during teardown.
func closeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

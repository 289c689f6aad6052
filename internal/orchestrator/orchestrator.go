// Package orchestrator runs the refinement loop: generate, render, judge, in
// strict lockstep, until the verifier converges or the round budget runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sceneloop/internal/executor"
	"sceneloop/internal/protocol"
	"sceneloop/internal/record"
	"sceneloop/internal/transport"
)

// Status is the loop's lifecycle state.
type Status string

const (
	StatusInit      Status = "init"
	StatusRunning   Status = "running"
	StatusConverged Status = "converged"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

// Stage names the step a failure occurred in.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageRender   Stage = "render"
	StageJudge    Stage = "judge"
)

// Generator produces the next artifact. Satisfied by *agent.GeneratorClient.
type Generator interface {
	ProduceArtifact(ctx context.Context, feedback *protocol.Feedback) (protocol.Artifact, error)
}

// Verifier judges a render against the target. Satisfied by
// *agent.VerifierClient.
type Verifier interface {
	Judge(ctx context.Context, renderRef string, round int) (protocol.Feedback, error)
}

// Recorder persists the per-round audit trail. Satisfied by *record.Store.
type Recorder interface {
	SaveRound(ctx context.Context, r record.Round) error
	SaveSummary(ctx context.Context, sum record.RunSummary) error
}

// Result is the terminal report of one run. RoundsUsed counts generator
// rounds only; the baseline render of the initial code is round 0 and free.
type Result struct {
	RunID         string
	Status        Status
	RoundsUsed    int
	FinalArtifact protocol.Artifact
	FinalRender   string
	FinalScore    *float64
	FailedStage   Stage
	LastGoodRound int
}

// Options configure a run.
type Options struct {
	InitialCode string
	RoundLimit  int
	Logger      *zap.Logger
	Recorder    Recorder // optional
}

// Loop wires the three collaborators together. Construct one per run.
type Loop struct {
	generator Generator
	verifier  Verifier
	executor  executor.Executor
	recorder  Recorder
	logger    *zap.Logger

	runID       string
	initialCode string
	roundLimit  int
	status      Status
}

// New builds a loop in the Init state.
func New(g Generator, v Verifier, ex executor.Executor, opts Options) (*Loop, error) {
	if g == nil || v == nil || ex == nil {
		return nil, errors.New("orchestrator: generator, verifier, and executor are required")
	}
	if opts.RoundLimit < 1 {
		return nil, errors.New("orchestrator: round limit must be >= 1")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		generator:   g,
		verifier:    v,
		executor:    ex,
		recorder:    opts.Recorder,
		logger:      logger,
		runID:       uuid.NewString(),
		initialCode: opts.InitialCode,
		roundLimit:  opts.RoundLimit,
		status:      StatusInit,
	}, nil
}

// RunID identifies this run in logs and the record store.
func (l *Loop) RunID() string { return l.runID }

// Status reports the current lifecycle state.
func (l *Loop) Status() Status { return l.status }

// Run executes the loop to a terminal state. It is single-shot; calling Run
// on a finished loop returns the run's result again without side effects.
//
// Sequencing per round: produce, render, judge. A render rejection (the
// engine refused the code) is not fatal; the engine output becomes the
// critique for the next round and the round counts against the budget.
// Convergence on the final round wins over exhaustion.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	if l.status != StatusInit {
		return l.finished(), nil
	}
	l.status = StatusRunning
	started := time.Now()

	res, err := l.run(ctx)
	res.RunID = l.runID
	l.status = res.Status

	if l.recorder != nil {
		sumCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := l.recorder.SaveSummary(sumCtx, record.RunSummary{
			RunID:      l.runID,
			Status:     string(res.Status),
			RoundsUsed: res.RoundsUsed,
			FinalScore: res.FinalScore,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}); serr != nil {
			l.logger.Warn("run summary not recorded", zap.Error(serr))
		}
	}
	return res, err
}

func (l *Loop) run(ctx context.Context) (Result, error) {
	res := Result{Status: StatusFailed, LastGoodRound: -1}

	// Round 0: render and judge the initial code as the baseline. The
	// budget only pays for generator rounds, so a target already matched
	// by the starting code costs zero rounds.
	baseline := protocol.Artifact{Code: l.initialCode}
	feedback, renderRef, err := l.evaluate(ctx, baseline, 0)
	if err != nil {
		return l.fail(res, 0, err)
	}
	res.FinalArtifact = baseline
	res.FinalRender = renderRef
	res.FinalScore = feedback.Score
	if renderRef != "" {
		res.LastGoodRound = 0
	}
	if feedback.Status == protocol.StatusEnd {
		l.logger.Info("baseline already matches target", zap.String("run", l.runID))
		res.Status = StatusConverged
		return res, nil
	}

	// The baseline verdict only decides whether to start the loop; its
	// critique is discarded. Round 1 generates with no feedback, and each
	// later round carries its own copy of the previous judgment.
	var carry *protocol.Feedback

	for round := 1; round <= l.roundLimit; round++ {
		if err := ctx.Err(); err != nil {
			res.FailedStage = StageGenerate
			return res, fmt.Errorf("orchestrator: canceled before round %d: %w", round, err)
		}

		artifact, err := l.produce(ctx, carry)
		if err != nil {
			res.RoundsUsed = round - 1
			res.FailedStage = StageGenerate
			return res, fmt.Errorf("orchestrator: round %d: %w", round, err)
		}

		feedback, renderRef, err = l.evaluate(ctx, artifact, round)
		if err != nil {
			res.RoundsUsed = round - 1
			return l.fail(res, round, err)
		}
		fb := feedback
		carry = &fb

		res.FinalArtifact = artifact
		res.FinalRender = renderRef
		res.FinalScore = feedback.Score
		res.RoundsUsed = round
		if renderRef != "" {
			res.LastGoodRound = round
		}

		if feedback.Status == protocol.StatusEnd {
			l.logger.Info("converged", zap.String("run", l.runID), zap.Int("round", round),
				zap.Float64p("score", feedback.Score))
			res.Status = StatusConverged
			return res, nil
		}
		l.logger.Info("round complete", zap.String("run", l.runID), zap.Int("round", round),
			zap.Float64p("score", feedback.Score))
	}

	l.logger.Info("round budget exhausted", zap.String("run", l.runID),
		zap.Int("rounds", l.roundLimit))
	res.Status = StatusExhausted
	return res, nil
}

// produce asks the generator for the next artifact. A call timeout is
// retried exactly once; every other failure escalates.
func (l *Loop) produce(ctx context.Context, feedback *protocol.Feedback) (protocol.Artifact, error) {
	artifact, err := l.generator.ProduceArtifact(ctx, feedback)
	if errors.Is(err, transport.ErrCallTimeout) && ctx.Err() == nil {
		l.logger.Warn("generator timed out, retrying once", zap.Error(err))
		artifact, err = l.generator.ProduceArtifact(ctx, feedback)
	}
	if err != nil {
		return protocol.Artifact{}, err
	}
	return artifact, nil
}

// evaluate renders the artifact and judges the result. An engine rejection
// short-circuits judging: the engine output becomes continue-feedback and
// renderRef comes back empty.
func (l *Loop) evaluate(ctx context.Context, artifact protocol.Artifact, round int) (protocol.Feedback, string, error) {
	renderRef, err := l.executor.Render(ctx, artifact, round)
	if err != nil {
		var rerr *executor.RenderError
		if !errors.As(err, &rerr) {
			return protocol.Feedback{}, "", &stagedError{stage: StageRender, err: err}
		}
		l.logger.Warn("render rejected artifact", zap.Int("round", round))
		feedback := protocol.Feedback{
			Status:   protocol.StatusContinue,
			Critique: fmt.Sprintf("the code failed to execute:\n%s", rerr.Output),
			Round:    round,
		}
		l.recordRound(ctx, artifact, "", feedback)
		return feedback, "", nil
	}

	feedback, err := l.verifier.Judge(ctx, renderRef, round)
	if err != nil {
		return protocol.Feedback{}, "", &stagedError{stage: StageJudge, err: err}
	}
	l.recordRound(ctx, artifact, renderRef, feedback)
	return feedback, renderRef, nil
}

func (l *Loop) recordRound(ctx context.Context, artifact protocol.Artifact, renderRef string, feedback protocol.Feedback) {
	if l.recorder == nil {
		return
	}
	err := l.recorder.SaveRound(ctx, record.Round{
		RunID:     l.runID,
		Round:     feedback.Round,
		Artifact:  artifact,
		RenderRef: renderRef,
		Feedback:  feedback,
		Evidence:  feedback.Evidence,
		At:        time.Now(),
	})
	if err != nil {
		l.logger.Warn("round not recorded", zap.Int("round", feedback.Round), zap.Error(err))
	}
}

func (l *Loop) fail(res Result, round int, err error) (Result, error) {
	var serr *stagedError
	if errors.As(err, &serr) {
		res.FailedStage = serr.stage
	}
	res.Status = StatusFailed
	return res, fmt.Errorf("orchestrator: round %d: %w", round, err)
}

func (l *Loop) finished() Result {
	return Result{RunID: l.runID, Status: l.status}
}

type stagedError struct {
	stage Stage
	err   error
}

func (e *stagedError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stagedError) Unwrap() error { return e.err }

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sceneloop/internal/agent"
	"sceneloop/internal/config"
	"sceneloop/internal/executor"
	"sceneloop/internal/logging"
	"sceneloop/internal/orchestrator"
	"sceneloop/internal/protocol"
	"sceneloop/internal/record"
	"sceneloop/internal/toolrouter"
	"sceneloop/internal/transport"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the refinement loop to a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop()
		},
	}
}

func runLoop() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: logLevel, File: logFile, Console: true})
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.Named("sceneloop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initialCode, err := os.ReadFile(cfg.Refine.InitCodePath)
	if err != nil {
		return fmt.Errorf("read initial code: %w", err)
	}

	chOpts := transport.Options{
		CallTimeout:      cfg.Transport.CallTimeout,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		Logger:           logger.Named("transport"),
	}

	generator, err := startGenerator(ctx, cfg, string(initialCode), chOpts, logger)
	if err != nil {
		return err
	}
	defer generator.Close()

	verifier, err := startVerifier(ctx, cfg, chOpts, logger)
	if err != nil {
		return err
	}
	defer verifier.Close()

	ex, err := buildExecutor(cfg, logger)
	if err != nil {
		return err
	}

	store, err := record.Open(cfg.Record.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	loop, err := orchestrator.New(generator, verifier, ex, orchestrator.Options{
		InitialCode: string(initialCode),
		RoundLimit:  cfg.Refine.RoundLimit,
		Logger:      logger.Named("loop"),
		Recorder:    store,
	})
	if err != nil {
		return err
	}

	logger.Info("starting run", zap.String("run", loop.RunID()),
		zap.String("mode", string(cfg.Mode)), zap.Int("round_limit", cfg.Refine.RoundLimit))

	result, err := loop.Run(ctx)
	if err != nil {
		logger.Error("run failed", zap.String("run", result.RunID),
			zap.String("stage", string(result.FailedStage)),
			zap.Int("last_good_round", result.LastGoodRound), zap.Error(err))
		return err
	}

	printResult(result)
	return nil
}

func startGenerator(ctx context.Context, cfg *config.Config, initialCode string, chOpts transport.Options, logger *zap.Logger) (*agent.GeneratorClient, error) {
	name, args := config.SplitCommand(cfg.Agents.GeneratorCommand)
	ch, err := transport.Spawn(ctx, name, args, chOpts)
	if err != nil {
		return nil, fmt.Errorf("spawn generator: %w", err)
	}

	client := agent.NewGenerator(ch, logger.Named("generator"))
	if _, err := client.CreateSession(ctx, protocol.SessionCreateParams{
		VisionModel:    cfg.Vision.Model,
		CredentialRef:  cfg.Vision.CredentialRef,
		InitialCode:    initialCode,
		TargetImageRef: cfg.Refine.TargetImage,
		RoundLimit:     cfg.Refine.RoundLimit,
		Hints:          cfg.Agents.GeneratorHints,
		SaveDir:        cfg.Refine.SaveDir,
	}); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func startVerifier(ctx context.Context, cfg *config.Config, chOpts transport.Options, logger *zap.Logger) (*agent.VerifierClient, error) {
	name, args := config.SplitCommand(cfg.Agents.VerifierCommand)
	ch, err := transport.Spawn(ctx, name, args, chOpts)
	if err != nil {
		return nil, fmt.Errorf("spawn verifier: %w", err)
	}

	router := toolrouter.New(logger.Named("tools"))
	client := agent.NewVerifier(ch, router, logger.Named("verifier"))

	if err := registerTools(ctx, cfg, router, chOpts); err != nil {
		client.Close()
		return nil, err
	}

	if _, err := client.CreateSession(ctx, protocol.SessionCreateParams{
		VisionModel:    cfg.Vision.Model,
		CredentialRef:  cfg.Vision.CredentialRef,
		TargetImageRef: cfg.Refine.TargetImage,
		RoundLimit:     cfg.Refine.RoundLimit,
		Hints:          cfg.Agents.VerifierHints,
		SaveDir:        cfg.Refine.SaveDir,
		ScoreThreshold: cfg.Refine.ScoreThreshold,
	}); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// registerTools spawns the configured tool processes and binds their
// capabilities. A tool with no configured command is simply absent; judgment
// degrades gracefully without it.
func registerTools(ctx context.Context, cfg *config.Config, router *toolrouter.Router, chOpts transport.Options) error {
	if cfg.Tools.CompareImagesCommand != "" {
		name, args := config.SplitCommand(cfg.Tools.CompareImagesCommand)
		ch, err := transport.Spawn(ctx, name, args, chOpts)
		if err != nil {
			return fmt.Errorf("spawn compare tool: %w", err)
		}
		router.Register(agent.CapabilityCompareImages, ch)
	}
	if cfg.Mode == config.Mode3D && cfg.Tools.InvestigateSceneCommand != "" {
		name, args := config.SplitCommand(cfg.Tools.InvestigateSceneCommand)
		ch, err := transport.Spawn(ctx, name, args, chOpts)
		if err != nil {
			return fmt.Errorf("spawn investigate tool: %w", err)
		}
		router.Register(agent.CapabilityInvestigateScene, ch)
	}
	return nil
}

func buildExecutor(cfg *config.Config, logger *zap.Logger) (executor.Executor, error) {
	switch cfg.Mode {
	case config.Mode2D:
		return executor.NewSlidesExecutor(cfg.Executor, logger.Named("executor"))
	default:
		return executor.NewSceneExecutor(cfg.Executor, logger.Named("executor"))
	}
}

func printResult(r orchestrator.Result) {
	fmt.Printf("run %s: %s after %d round(s)\n", r.RunID, r.Status, r.RoundsUsed)
	if r.FinalRender != "" {
		fmt.Printf("final render: %s\n", r.FinalRender)
	}
	if r.FinalScore != nil {
		fmt.Printf("final score: %.3f\n", *r.FinalScore)
	}
}

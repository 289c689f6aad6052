package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"sceneloop/internal/config"
	"sceneloop/internal/protocol"
)

// SlidesExecutor renders slide-layout code by running it under the slide
// renderer command:
//
//	<command> <round script> <render dir>
//
// The renderer writes the slide image(s) into the render directory.
type SlidesExecutor struct {
	cfg    config.ExecutorConfig
	logger *zap.Logger
}

// NewSlidesExecutor creates the 2D executor and its output directories.
func NewSlidesExecutor(cfg config.ExecutorConfig, logger *zap.Logger) (*SlidesExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{cfg.ScriptDir, cfg.RenderDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &SlidesExecutor{cfg: cfg, logger: logger}, nil
}

// Render writes the artifact to the per-round script and runs the renderer.
func (e *SlidesExecutor) Render(ctx context.Context, artifact protocol.Artifact, round int) (string, error) {
	scriptPath := filepath.Join(e.cfg.ScriptDir, fmt.Sprintf("%d.py", round))
	renderDir := filepath.Join(e.cfg.RenderDir, fmt.Sprintf("%d", round))

	if err := os.WriteFile(scriptPath, []byte(artifact.Code), 0o644); err != nil {
		return "", fmt.Errorf("write round script: %w", err)
	}
	if err := os.MkdirAll(renderDir, 0o755); err != nil {
		return "", fmt.Errorf("create render dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.RenderCommand, scriptPath, renderDir)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Debug("rendering slides", zap.Int("round", round))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RenderError{Output: output.String()}
	}

	image, err := firstImage(renderDir)
	if err != nil {
		return "", &RenderError{Output: fmt.Sprintf("no rendered slide: %v", err)}
	}
	return image, nil
}

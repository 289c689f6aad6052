package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sceneloop/internal/config"
	"sceneloop/internal/protocol"
)

// SceneExecutor renders procedural 3D scene code by invoking the engine in
// background mode:
//
//	<command> --background <scene file> --python <render script> -- <round script> <render dir>
//
// The engine-side render script executes the round script inside the scene
// and writes one or more images into the render directory.
type SceneExecutor struct {
	cfg    config.ExecutorConfig
	logger *zap.Logger
}

// NewSceneExecutor creates the 3D executor and its output directories.
func NewSceneExecutor(cfg config.ExecutorConfig, logger *zap.Logger) (*SceneExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{cfg.ScriptDir, cfg.RenderDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &SceneExecutor{cfg: cfg, logger: logger}, nil
}

// Render writes the artifact to the per-round script file, runs the engine,
// and returns the path of the first rendered image. Engine rejections come
// back as *RenderError; anything else is a process-level failure.
func (e *SceneExecutor) Render(ctx context.Context, artifact protocol.Artifact, round int) (string, error) {
	scriptPath := filepath.Join(e.cfg.ScriptDir, fmt.Sprintf("%d.py", round))
	renderDir := filepath.Join(e.cfg.RenderDir, fmt.Sprintf("%d", round))

	if err := os.WriteFile(scriptPath, []byte(artifact.Code), 0o644); err != nil {
		return "", fmt.Errorf("write round script: %w", err)
	}
	if err := os.MkdirAll(renderDir, 0o755); err != nil {
		return "", fmt.Errorf("create render dir: %w", err)
	}

	args := []string{"--background"}
	if e.cfg.SceneFile != "" {
		args = append(args, e.cfg.SceneFile)
	}
	args = append(args, "--python", e.cfg.RenderScript, "--", scriptPath, renderDir)

	cmd := exec.CommandContext(ctx, e.cfg.RenderCommand, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("rendering", zap.Int("round", round), zap.String("script", scriptPath))
	err := cmd.Run()
	out := stdout.String()

	// The engine reports script errors on stdout with a zero exit in
	// background mode, so scan the output either way.
	if err != nil || strings.Contains(out, "Error:") {
		msg := stderr.String()
		if msg == "" {
			msg = out
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RenderError{Output: msg}
	}

	image, err := firstImage(renderDir)
	if err != nil {
		return "", &RenderError{Output: fmt.Sprintf("no rendered image: %v\n%s", err, out)}
	}
	return image, nil
}

// firstImage picks the lexically first rendered image from dir.
func firstImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var images []string
	for _, entry := range entries {
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	if len(images) == 0 {
		return "", fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(images)
	return images[0], nil
}

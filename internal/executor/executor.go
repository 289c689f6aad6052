// Package executor adapts the external render engines that turn generated
// code into pixels. The engines themselves are out of scope; this package
// owns only the subprocess contract and the on-disk layout of per-round
// scripts and renders.
package executor

import (
	"context"
	"errors"
	"fmt"

	"sceneloop/internal/protocol"
)

// ErrRenderFailed wraps an engine rejection of the artifact (bad code, crash
// during execution). The engine output travels with it so the generator can
// be fed the failure as critique.
var ErrRenderFailed = errors.New("executor: render failed")

// RenderError carries the engine output alongside ErrRenderFailed.
type RenderError struct {
	Output string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed: %s", truncate(e.Output, 400))
}

func (e *RenderError) Unwrap() error { return ErrRenderFailed }

// Executor renders one round's artifact and returns an opaque reference to
// the visual output (a path in both built-in variants).
type Executor interface {
	Render(ctx context.Context, artifact protocol.Artifact, round int) (string, error)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

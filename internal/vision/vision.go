// Package vision wraps the vision-language model backend behind the single
// operation the agents need: prompt plus optional images in, text out.
package vision

import "context"

// Completer is the minimal interface agent handlers use to call the model.
// imagePaths reference PNG/JPEG files on the local filesystem.
type Completer interface {
	Complete(ctx context.Context, prompt string, imagePaths []string) (string, error)
}

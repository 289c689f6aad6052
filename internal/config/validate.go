package config

import (
	"fmt"
	"strings"
)

// ValidationError reports every missing or invalid field at once, so a
// failed session creation tells the operator the whole story.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Fields, ", "))
}

// Validate checks the fields a refinement run cannot start without. Returns
// a *ValidationError listing every problem, or nil.
func (c *Config) Validate() error {
	var fields []string

	if c.Mode != Mode3D && c.Mode != Mode2D {
		fields = append(fields, fmt.Sprintf("mode: unknown %q", c.Mode))
	}
	if c.Vision.Model == "" {
		fields = append(fields, "vision.model: required")
	}
	if c.Vision.CredentialRef == "" {
		fields = append(fields, "vision.credential_ref: required")
	}
	if c.Refine.InitCodePath == "" {
		fields = append(fields, "refine.init_code_path: required")
	}
	if c.Refine.TargetImage == "" {
		fields = append(fields, "refine.target_image: required")
	}
	if c.Refine.RoundLimit < 1 {
		fields = append(fields, "refine.round_limit: must be >= 1")
	}
	if c.Refine.ScoreThreshold <= 0 || c.Refine.ScoreThreshold > 1 {
		fields = append(fields, "refine.score_threshold: must be in (0, 1]")
	}
	if c.Agents.GeneratorCommand == "" {
		fields = append(fields, "agents.generator_command: required")
	}
	if c.Agents.VerifierCommand == "" {
		fields = append(fields, "agents.verifier_command: required")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

package agentd

import (
	"fmt"
	"strings"

	"sceneloop/internal/protocol"
	"sceneloop/internal/session"
)

// generatePrompt replays the session history as conversational context and
// asks for the next revision. The target image rides alongside as the first
// attachment.
func generatePrompt(cfg protocol.SessionCreateParams, history []session.Entry) string {
	var b strings.Builder

	b.WriteString("You are a code generator refining a program whose visual output must match the attached target image.\n")
	b.WriteString("Revise the code to address the latest critique while keeping what already matches.\n\n")
	if cfg.Hints != "" {
		b.WriteString("Domain notes:\n")
		b.WriteString(cfg.Hints)
		b.WriteString("\n\n")
	}

	for _, e := range history {
		switch e.Kind {
		case session.EntryArtifact:
			if e.Round == 0 {
				b.WriteString("Initial code:\n")
			} else {
				fmt.Fprintf(&b, "Code after round %d:\n", e.Round)
			}
			b.WriteString("```python\n")
			b.WriteString(e.Artifact.Code)
			b.WriteString("\n```\n\n")
		case session.EntryFeedback:
			fmt.Fprintf(&b, "Critique for round %d:\n%s\n\n", e.Round, e.Feedback.Critique)
		}
	}

	b.WriteString("Respond with the full revised program in a single fenced python code block.\n")
	b.WriteString("Before the code block, briefly state what you changed and why.\n")
	return b.String()
}

// judgePrompt asks for a structured verdict on the current render (first
// attachment) against the target (second attachment).
func judgePrompt(cfg protocol.SessionCreateParams, params protocol.JudgeParams, history []session.Entry) string {
	var b strings.Builder

	b.WriteString("You are a strict visual verifier. The first attached image is the current render; the second is the target.\n")
	b.WriteString("Decide whether the render matches the target in content, layout, and appearance.\n\n")
	if cfg.Hints != "" {
		b.WriteString("Domain notes:\n")
		b.WriteString(cfg.Hints)
		b.WriteString("\n\n")
	}

	if len(params.Evidence) > 0 {
		b.WriteString("Tool evidence for this round:\n")
		for _, e := range params.Evidence {
			if e.Score != nil {
				fmt.Fprintf(&b, "- %s (score %.3f): %s\n", e.Capability, *e.Score, e.Summary)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", e.Capability, e.Summary)
			}
		}
		b.WriteString("\n")
	}
	if params.Degraded {
		b.WriteString("Some tool evidence could not be gathered this round; judge from the images alone where evidence is missing.\n\n")
	}

	if prior := priorCritiques(history); len(prior) > 0 {
		b.WriteString("Your earlier critiques, oldest first:\n")
		for _, c := range prior {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "This is round %d.\n", params.Round)
	b.WriteString("Respond with a single fenced json block:\n")
	b.WriteString("{\"match\": bool, \"critique\": \"what to fix, empty if matched\", \"score\": 0.0 to 1.0")
	b.WriteString(", \"investigate\": [{\"op\": \"focus|zoom|move\", \"target\": \"object name\", \"direction\": \"in|out|up|down|left|right\"}]}\n")
	b.WriteString("Include investigate only when you need additional camera views before deciding.\n")
	return b.String()
}

func priorCritiques(history []session.Entry) []string {
	var out []string
	for _, e := range history {
		if e.Kind == session.EntryFeedback && e.Feedback.Critique != "" {
			out = append(out, fmt.Sprintf("round %d: %s", e.Round, e.Feedback.Critique))
		}
	}
	return out
}

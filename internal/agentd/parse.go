package agentd

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"sceneloop/internal/protocol"
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:python|py)?\\s*\n(.*?)```")
	jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)```")
)

// extractCode pulls the program out of the model's response. The last fenced
// code block wins when several are present; a response with no fence is
// taken verbatim.
func extractCode(text string) string {
	matches := codeBlockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

// extractRationale returns the prose before the first code block.
func extractRationale(text string) string {
	idx := strings.Index(text, "```")
	if idx <= 0 {
		return ""
	}
	return strings.TrimSpace(text[:idx])
}

// parseVerdict decodes the structured verdict from the model's response,
// tolerating a fenced json block or bare JSON.
func parseVerdict(text string) (protocol.JudgeResult, error) {
	payload := strings.TrimSpace(text)
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		payload = strings.TrimSpace(m[1])
	} else if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}

	var result protocol.JudgeResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return protocol.JudgeResult{}, fmt.Errorf("verdict is not valid JSON: %w", err)
	}
	return result, nil
}

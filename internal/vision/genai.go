package vision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient calls the Gemini API for multimodal completions.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a client for the given model. credentialRef names
// the environment variable holding the API key.
func NewGenAIClient(ctx context.Context, model, credentialRef string) (*GenAIClient, error) {
	apiKey := os.Getenv(credentialRef)
	if apiKey == "" {
		return nil, fmt.Errorf("vision: credential %s is not set", credentialRef)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("vision: create client: %w", err)
	}
	return &GenAIClient{client: client, model: model}, nil
}

// Complete sends the prompt with any referenced images inlined and returns
// the model's text response.
func (c *GenAIClient) Complete(ctx context.Context, prompt string, imagePaths []string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}

	for _, path := range imagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("vision: read image %s: %w", path, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType(path)))
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("vision: generate: %w", err)
	}
	return result.Text(), nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

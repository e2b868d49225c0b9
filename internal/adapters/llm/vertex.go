package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/chatlog/internal/domain"
)

type VertexClient struct {
	client    *genai.Client
	modelName string
}

var _ domain.AnswerGateway = &VertexClient{}

// NewVertexClient creates an AnswerGateway based on Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, projectID, location, modelName string) (*VertexClient, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("gcp project and location must be set for vertex")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}
	return newGenaiClient(client, modelName), nil
}

// NewGeminiClient uses the Gemini Developer API with an API key instead of Vertex.
func NewGeminiClient(ctx context.Context, apiKey, modelName string) (*VertexClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set for the gemini gateway")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return newGenaiClient(client, modelName), nil
}

func newGenaiClient(client *genai.Client, modelName string) *VertexClient {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &VertexClient{client: client, modelName: modelName}
}

// Generate implements domain.AnswerGateway.
func (v *VertexClient) Generate(ctx context.Context, question string) (string, error) {
	const op = "vertex.generate"
	prompt := BuildPrompt(question)

	contents := []*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)}

	// Model config (without genai.Ptr to avoid generic issues)
	temp := float32(0.3)
	outputTokens := int32(2048)

	cfg := &genai.GenerateContentConfig{
		// According to official examples, the role here is usually RoleUser, not "system"
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   outputTokens,
	}

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return "", classify(op, fmt.Errorf("vertex generate content: %w", err))
	}

	text := res.Text()
	if text == "" {
		return "", emptyAnswer(op)
	}
	return text, nil
}

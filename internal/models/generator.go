package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/config"
	"github.com/easeaico/petpal/internal/utils"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// NewLLM returns the chat model selected by cfg.LLMProvider.
func NewLLM(ctx context.Context, cfg config.Config) (model.LLM, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAIModel(cfg.LLMModel, OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
	case config.ProviderGenAI, "":
		llm, err := gemini.NewModel(ctx, cfg.LLMModel, &genai.ClientConfig{
			APIKey:  cfg.GoogleAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini model: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// Generator runs single-shot generations on a model.LLM.
type Generator struct {
	model model.LLM
}

// NewGenerator returns a Generator.
func NewGenerator(m model.LLM) *Generator {
	return &Generator{model: m}
}

// Generate sends system as the system instruction and user as the only turn,
// and returns the reply text.
func (g *Generator) Generate(ctx context.Context, system, user string) (string, error) {
	if g == nil || g.model == nil {
		return "", fmt.Errorf("generator not configured")
	}
	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)},
		Config:   &genai.GenerateContentConfig{},
	}
	if strings.TrimSpace(system) != "" {
		req.Config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	var sb strings.Builder
	for resp, err := range g.model.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", fmt.Errorf("failed to generate reply: %w", err)
		}
		if resp == nil || resp.Partial {
			continue
		}
		sb.WriteString(utils.ExtractContentText(resp.Content))
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Package agent builds the ADK pet agent.
package agent

import (
	"context"
	"fmt"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"

	"github.com/easeaico/petpal/internal/callback"
	"github.com/easeaico/petpal/internal/config"
	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/models"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/prompt"
	pettool "github.com/easeaico/petpal/internal/tool"
	"github.com/easeaico/petpal/internal/types"
)

// CharacterReader loads the pet the agent speaks for.
type CharacterReader interface {
	GetByID(ctx context.Context, id string) (*types.Character, error)
}

// Deps are the services the pet agent is wired to.
type Deps struct {
	Characters     CharacterReader
	SessionService session.Service
	MemoryService  adkmemory.Service
	ShortTerm      *memory.ShortTermMemory
	Facts          *profile.Table
}

// NewPetAgent builds the companion agent for cfg.CharacterID.
func NewPetAgent(ctx context.Context, cfg *config.Config, deps Deps) (agent.Agent, error) {
	if cfg == nil || deps.Characters == nil {
		return nil, fmt.Errorf("config and character store are required")
	}
	if cfg.CharacterID == "" {
		return nil, fmt.Errorf("CHARACTER_ID is required to run the pet agent")
	}

	character, err := deps.Characters.GetByID(ctx, cfg.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load character %s: %w", cfg.CharacterID, err)
	}
	instruction, err := prompt.BuildPetInstruction(character)
	if err != nil {
		return nil, err
	}

	llmModel, err := models.NewLLM(ctx, *cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.LLMProvider, err)
	}

	before := []agent.BeforeAgentCallback{
		callback.WrapBeforeCallback("ensure_state", callback.EnsureSessionStateCallback(character)),
		callback.WrapBeforeCallback("first_message", callback.NewFirstMessageCallback(character)),
	}
	if deps.ShortTerm != nil {
		before = append(before, callback.WrapBeforeCallback("summary_state", callback.NewSummaryStateCallback(deps.ShortTerm, character.ID)))
	}
	var after []agent.AfterAgentCallback
	if deps.SessionService != nil && deps.MemoryService != nil {
		after = append(after, callback.WrapAfterCallback("add_session", callback.NewAddSessionToMemoryCallback(deps.SessionService, deps.MemoryService)))
	}

	llmAgent, err := llmagent.New(llmagent.Config{
		Name:                 "petpal_companion",
		Description:          "사용자를 기억하는 반려동물 대화 에이전트",
		Model:                llmModel,
		Instruction:          instruction,
		BeforeAgentCallbacks: before,
		AfterAgentCallbacks:  after,
		Tools: []tool.Tool{
			pettool.NewPreloadMemoryTool(cfg.TopK, deps.Facts, character.ID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pet agent: %w", err)
	}
	return llmAgent, nil
}

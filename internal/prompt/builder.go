// Package prompt assembles pet persona prompts.
package prompt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/easeaico/petpal/internal/types"
)

// BuildContext contains all inputs for prompt assembly.
type BuildContext struct {
	Character        *types.Character
	RetrievedContext string
	Summary          string
	History          []types.Exchange
	UserMessage      string
}

// Builder assembles the system and user prompts of a reply.
type Builder struct {
	historyLimit int
}

// NewBuilder creates a prompt Builder.
func NewBuilder(historyLimit int) *Builder {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Builder{historyLimit: historyLimit}
}

// Build returns the system instruction and the user message.
func (b *Builder) Build(ctx BuildContext) (string, string, error) {
	if ctx.Character == nil {
		return "", "", fmt.Errorf("character is required")
	}
	userMessage := strings.TrimSpace(ctx.UserMessage)
	if userMessage == "" {
		return "", "", fmt.Errorf("user message is required")
	}

	history := ctx.History
	if len(history) > b.historyLimit {
		history = history[len(history)-b.historyLimit:]
	}

	data := struct {
		Persona          Persona
		RetrievedContext string
		Summary          string
		History          []types.Exchange
	}{
		Persona:          ResolvePersona(ctx.Character),
		RetrievedContext: strings.TrimSpace(ctx.RetrievedContext),
		Summary:          strings.TrimSpace(ctx.Summary),
		History:          history,
	}

	var buf bytes.Buffer
	if err := chatTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to build prompt: %w", err)
	}
	return buf.String(), userMessage, nil
}

// BuildPetInstruction renders the persona as an ADK agent instruction.
func BuildPetInstruction(character *types.Character) (string, error) {
	if character == nil {
		return "", fmt.Errorf("character is required")
	}
	var buf bytes.Buffer
	if err := instructionTemplate.Execute(&buf, struct{ Persona Persona }{ResolvePersona(character)}); err != nil {
		return "", fmt.Errorf("failed to build instruction: %w", err)
	}
	return buf.String(), nil
}

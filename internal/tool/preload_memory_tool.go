// Package tool provides custom ADK tools for the pet agent.
package tool

import (
	"fmt"
	"log/slog"
	"strings"

	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/model"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/types"
	"github.com/easeaico/petpal/internal/utils"
)

const (
	defaultPreloadMemoryToolName        = "preload_memory"
	defaultPreloadMemoryToolDescription = "Preloads past conversations and known facts into the system instruction before each turn."
)

// PreloadMemoryTool injects retrieved conversation memory and profile facts
// into the system instruction.
type PreloadMemoryTool struct {
	name        string
	description string
	maxEntries  int
	facts       *profile.Table
	characterID string
}

// NewPreloadMemoryTool creates a PreloadMemoryTool. facts may be nil.
func NewPreloadMemoryTool(maxEntries int, facts *profile.Table, characterID string) *PreloadMemoryTool {
	return &PreloadMemoryTool{
		name:        defaultPreloadMemoryToolName,
		description: defaultPreloadMemoryToolDescription,
		maxEntries:  maxEntries,
		facts:       facts,
		characterID: characterID,
	}
}

// Name implements tool.Tool.
func (t *PreloadMemoryTool) Name() string {
	return t.name
}

// Description implements tool.Tool.
func (t *PreloadMemoryTool) Description() string {
	return t.description
}

// IsLongRunning implements tool.Tool.
func (t *PreloadMemoryTool) IsLongRunning() bool {
	return false
}

// ProcessRequest appends the memory and fact blocks to req's system instruction.
// A failed memory search is logged and leaves only the fact block.
func (t *PreloadMemoryTool) ProcessRequest(ctx tool.Context, req *model.LLMRequest) error {
	if ctx == nil || req == nil {
		return nil
	}

	appendInstruction(req, buildFactsInstruction(t.knownFacts(ctx.UserID())))

	query := strings.TrimSpace(utils.ExtractContentText(ctx.UserContent()))
	if query == "" {
		return nil
	}
	resp, err := ctx.SearchMemory(ctx, query)
	if err != nil {
		slog.Warn("failed to search memory", "user_id", ctx.UserID(), "error", err.Error())
		return nil
	}
	if resp == nil {
		return nil
	}
	appendInstruction(req, buildMemoryInstruction(resp.Memories, t.maxEntries))
	return nil
}

func (t *PreloadMemoryTool) knownFacts(userID string) []types.ProfileFact {
	if t.facts == nil {
		return nil
	}
	return append(t.facts.Facts(userID), t.facts.Facts(t.characterID)...)
}

func buildFactsInstruction(facts []types.ProfileFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known facts (subject, attribute, value). Prefer them over guesses:\n<FACTS>\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s %s: %s\n", f.Subject, f.Attribute, f.Value)
	}
	b.WriteString("</FACTS>\n")
	return b.String()
}

// buildMemoryInstruction renders memory entries. A lone sentinel entry is
// rendered as a note instead of a past conversation.
func buildMemoryInstruction(memories []adkmemory.Entry, maxEntries int) string {
	if len(memories) == 0 {
		return ""
	}
	if len(memories) == 1 && memories[0].Author == memory.AuthorSystem {
		if text := strings.TrimSpace(utils.ExtractContentText(memories[0].Content)); text != "" {
			return "Nothing related was found in past conversations. If asked, you may say: " + text + "\n"
		}
		return ""
	}
	if maxEntries > 0 && len(memories) > maxEntries {
		memories = memories[:maxEntries]
	}

	var b strings.Builder
	b.WriteString("The following content is from your previous conversations with the user.\n" +
		"Use it for continuity but do not repeat it verbatim.\n<PAST_CONVERSATIONS>\n")
	for _, entry := range memories {
		text := strings.TrimSpace(utils.ExtractContentText(entry.Content))
		if text == "" {
			continue
		}
		b.WriteString(formatMemoryLine(strings.TrimSpace(entry.Author), text))
		b.WriteString("\n")
	}
	b.WriteString("</PAST_CONVERSATIONS>\n")
	return b.String()
}

func formatMemoryLine(author, text string) string {
	if author == "" {
		return "- " + text
	}
	return "- " + author + ": " + text
}

func appendInstruction(req *model.LLMRequest, instruction string) {
	if strings.TrimSpace(instruction) == "" {
		return
	}
	if req.Config == nil {
		req.Config = &genai.GenerateContentConfig{}
	}
	if req.Config.SystemInstruction == nil {
		req.Config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
		return
	}
	req.Config.SystemInstruction.Parts = append(req.Config.SystemInstruction.Parts, genai.NewPartFromText(instruction))
}

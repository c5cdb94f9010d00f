package callback

import (
	"log/slog"

	"google.golang.org/adk/agent"
	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/types"
)

// StateSummary is the session state key read by the {Summary} placeholder of
// the pet instruction.
const StateSummary = "Summary"

// NewAddSessionToMemoryCallback records the finished exchange through
// memoryService after each turn.
func NewAddSessionToMemoryCallback(sessionService session.Service, memoryService adkmemory.Service) agent.AfterAgentCallback {
	return func(ctx agent.CallbackContext) (*genai.Content, error) {
		resp, err := sessionService.Get(ctx, &session.GetRequest{
			AppName:   ctx.AppName(),
			UserID:    ctx.UserID(),
			SessionID: ctx.SessionID(),
		})
		if err != nil {
			slog.Error("failed to get completed session", "error", err.Error())
			return nil, err
		}

		if err := memoryService.AddSession(ctx, resp.Session); err != nil {
			// The turn was answered already; a failed write is logged only.
			slog.Warn("failed to add session to memory", "session_id", ctx.SessionID(), "error", err.Error())
		}
		return nil, nil
	}
}

// NewSummaryStateCallback syncs short-term memory from the log and publishes
// its summary to session state.
func NewSummaryStateCallback(shortTerm *memory.ShortTermMemory, characterID string) agent.BeforeAgentCallback {
	return func(ctx agent.CallbackContext) (*genai.Content, error) {
		key := types.ConversationKey{UserID: ctx.UserID(), CharacterID: stateString(ctx.State(), memory.StateCharacterID, characterID)}
		shortTerm.SyncFromLog(ctx, key.ID())
		if err := ctx.State().Set(StateSummary, shortTerm.Summary(key.ID())); err != nil {
			slog.Warn("failed to set session state", "key", StateSummary, "error", err.Error())
		}
		return nil, nil
	}
}

package callback

import (
	"errors"
	"log/slog"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/types"
)

// EnsureSessionStateCallback seeds the state keys the pet agent relies on.
func EnsureSessionStateCallback(character *types.Character) agent.BeforeAgentCallback {
	return func(cbCtx agent.CallbackContext) (*genai.Content, error) {
		state := cbCtx.State()
		if state == nil {
			slog.Warn("session state is nil, skipping state initialization")
			return nil, nil
		}

		ensureStateValue(state, memory.StateCharacterID, character.ID)
		ensureStateValue(state, StateSummary, "")
		return nil, nil
	}
}

func ensureStateValue(state session.State, key string, value any) {
	_, err := state.Get(key)
	if err == nil {
		return
	}
	if !errors.Is(err, session.ErrStateKeyNotExist) {
		slog.Warn("failed to check session state key", "key", key, "error", err.Error())
		return
	}
	if err := state.Set(key, value); err != nil {
		slog.Warn("failed to set session state", "key", key, "error", err.Error())
	}
}

func stateString(state session.State, key, fallback string) string {
	if state == nil {
		return fallback
	}
	v, err := state.Get(key)
	if err != nil {
		return fallback
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func stateBool(state session.State, key string) bool {
	if state == nil {
		return false
	}
	value, err := state.Get(key)
	if err != nil {
		return false
	}
	b, ok := value.(bool)
	if !ok {
		slog.Warn("session state key has unexpected type", "key", key)
		return false
	}
	return b
}

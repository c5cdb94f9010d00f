package callback

import (
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/prompt"
	"github.com/easeaico/petpal/internal/types"
	"github.com/easeaico/petpal/internal/utils"
)

// GreetingTrigger is the input clients send to open a conversation.
const GreetingTrigger = "0_0"

const stateHasUserInput = "HasUserInput"

// NewFirstMessageCallback answers the greeting trigger without calling the
// model: the pet's last message when there is one, otherwise a greeting.
func NewFirstMessageCallback(character *types.Character) agent.BeforeAgentCallback {
	return func(cbCtx agent.CallbackContext) (*genai.Content, error) {
		trimmed := strings.TrimSpace(utils.ExtractContentText(cbCtx.UserContent()))

		state := cbCtx.State()
		if state != nil && !stateBool(state, stateHasUserInput) {
			if err := state.Set(stateHasUserInput, true); err != nil {
				slog.Error("failed to set session state", "key", stateHasUserInput, "error", err.Error())
				return nil, fmt.Errorf("failed to set session state: %w", err)
			}
		}

		if trimmed != GreetingTrigger || character == nil {
			return nil, nil
		}
		return genai.NewContentFromText(Greeting(character), genai.RoleModel), nil
	}
}

// Greeting is the pet's opening line.
func Greeting(character *types.Character) string {
	if msg := strings.TrimSpace(character.LastMessage); msg != "" {
		return msg
	}
	p := prompt.ResolvePersona(character)
	line := fmt.Sprintf("%s! 나 %s야, 기다리고 있었어!", p.UserNickname, p.Nickname)
	if emoji := []rune(p.EmojiStyle); len(emoji) > 0 {
		line += " " + string(emoji[0])
	}
	return line
}

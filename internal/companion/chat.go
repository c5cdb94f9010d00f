// Package companion runs the pet chat pipeline on top of the memory core.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/prompt"
	"github.com/easeaico/petpal/internal/storage"
	"github.com/easeaico/petpal/internal/types"
	"github.com/easeaico/petpal/internal/utils"
)

var (
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("empty message not allowed")
	// ErrCharacterNotFound is returned when the character does not exist or
	// belongs to another user.
	ErrCharacterNotFound = errors.New("character not found")
)

// CharacterStore reads and updates pets.
type CharacterStore interface {
	GetByID(ctx context.Context, id string) (*types.Character, error)
	UpdateLastMessage(ctx context.Context, id, message string) error
	Delete(ctx context.Context, id string) error
}

// TurnLog is the durable conversation log.
type TurnLog interface {
	memory.TurnReader
	DeleteConversation(ctx context.Context, conversationID string) (int64, error)
}

// Generator produces a reply from a system instruction and the user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Options wires a Chat.
type Options struct {
	Characters CharacterStore
	Turns      TurnLog
	Memory     *memory.Service
	ShortTerm  *memory.ShortTermMemory
	// Extractor may be nil when profile facts are disabled.
	Extractor *profile.Extractor
	Prompts   *prompt.Builder
	Generator Generator
	Logger    *slog.Logger
}

// Chat answers users on behalf of their pets.
type Chat struct {
	characters CharacterStore
	turns      TurnLog
	memory     *memory.Service
	shortTerm  *memory.ShortTermMemory
	extractor  *profile.Extractor
	prompts    *prompt.Builder
	generator  Generator
	logger     *slog.Logger

	seeded sync.Map
}

// NewChat returns a Chat.
func NewChat(opts Options) *Chat {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.NewBuilder(0)
	}
	return &Chat{
		characters: opts.Characters,
		turns:      opts.Turns,
		memory:     opts.Memory,
		shortTerm:  opts.ShortTerm,
		extractor:  opts.Extractor,
		prompts:    opts.Prompts,
		generator:  opts.Generator,
		logger:     opts.Logger,
	}
}

// Reply records the user's message, grounds a reply in memory, generates it
// and records it as the character's turn.
func (c *Chat) Reply(ctx context.Context, userID, characterID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	character, err := c.character(ctx, userID, characterID)
	if err != nil {
		return "", err
	}
	c.seed(ctx, character)

	key := character.Key()
	conversationID := key.ID()
	logger := c.logger.With("conversation_id", conversationID)

	// The user turn is logged first for ordering but indexed only after
	// retrieval, so a first message sees an empty index.
	userTurn, err := c.memory.AppendTurn(ctx, key, types.ConversationTurn{Role: types.RoleUser, Content: text})
	if err != nil {
		if !errors.Is(err, memory.ErrEmbedding) {
			return "", fmt.Errorf("failed to record user message: %w", err)
		}
		logger.Warn("user message stored without index update", "error", err.Error())
	}

	retrieved, err := c.memory.RetrieveContext(ctx, key, text)
	if err != nil {
		logger.Warn("failed to retrieve context", "error", err.Error())
		retrieved = ""
	}
	if err := c.memory.IndexTurn(ctx, userTurn); err != nil {
		logger.Warn("failed to index user message", "turn_id", userTurn.ID, "error", err.Error())
	}

	c.shortTerm.SyncFromLog(ctx, conversationID)
	c.shortTerm.SyncFromRetrieval(conversationID, text, groundingOnly(retrieved))

	system, user, err := c.prompts.Build(prompt.BuildContext{
		Character:        character,
		RetrievedContext: retrieved,
		Summary:          c.shortTerm.Summary(conversationID),
		History:          withoutPending(c.shortTerm.History(conversationID), text),
		UserMessage:      text,
	})
	if err != nil {
		return "", err
	}

	raw, err := c.generator.Generate(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	reply := utils.CleanReply(raw)
	if reply == "" {
		reply = memory.ForgotSentinel
	}

	if _, err := c.memory.RecordTurnAndUpdateIndex(ctx, key, types.ConversationTurn{Role: types.RoleCharacter, Content: reply}); err != nil {
		logger.Warn("failed to record reply", "error", err.Error())
	}
	c.shortTerm.AppendExchange(conversationID, text, reply)
	if err := c.characters.UpdateLastMessage(ctx, character.ID, reply); err != nil {
		logger.Warn("failed to update last message", "error", err.Error())
	}
	return reply, nil
}

// DeleteCharacter removes the pet together with its conversation, index,
// short-term memory and profile facts.
func (c *Chat) DeleteCharacter(ctx context.Context, userID, characterID string) error {
	character, err := c.character(ctx, userID, characterID)
	if err != nil {
		return err
	}
	errs := []error{c.clear(ctx, character.Key().ID())}
	if c.extractor != nil {
		c.extractor.Forget(ctx, character.ID)
	}
	c.seeded.Delete(character.ID)
	if err := c.characters.Delete(ctx, character.ID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClearConversation wipes the conversation but keeps the pet.
func (c *Chat) ClearConversation(ctx context.Context, userID, characterID string) error {
	character, err := c.character(ctx, userID, characterID)
	if err != nil {
		return err
	}
	return c.clear(ctx, character.Key().ID())
}

func (c *Chat) clear(ctx context.Context, conversationID string) error {
	var errs []error
	if n, err := c.turns.DeleteConversation(ctx, conversationID); err != nil {
		errs = append(errs, err)
	} else {
		c.logger.Info("deleted conversation turns", "conversation_id", conversationID, "turns", n)
	}
	if err := c.memory.DeleteConversationIndex(ctx, conversationID); err != nil {
		errs = append(errs, err)
	}
	c.shortTerm.Forget(conversationID)
	return errors.Join(errs...)
}

func (c *Chat) character(ctx context.Context, userID, characterID string) (*types.Character, error) {
	character, err := c.characters.GetByID(ctx, characterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("failed to load character: %w", err)
	}
	if character.UserID != userID {
		return nil, ErrCharacterNotFound
	}
	return character, nil
}

func (c *Chat) seed(ctx context.Context, character *types.Character) {
	if c.extractor == nil {
		return
	}
	if _, loaded := c.seeded.LoadOrStore(character.ID, struct{}{}); loaded {
		return
	}
	c.extractor.SeedCharacter(ctx, character)
}

// groundingOnly drops sentinel texts so they never enter short-term memory.
func groundingOnly(retrieved string) string {
	switch retrieved {
	case memory.NoHistorySentinel, memory.NoRelatedSentinel:
		return ""
	}
	return retrieved
}

// withoutPending drops the unanswered log entry for the message being answered.
// Synthetic entries after it are kept.
func withoutPending(history []types.Exchange, input string) []types.Exchange {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Synthetic {
			continue
		}
		if history[i].Output == "" && history[i].Input == input {
			return append(history[:i:i], history[i+1:]...)
		}
		break
	}
	return history
}

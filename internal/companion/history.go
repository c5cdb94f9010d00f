package companion

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/easeaico/petpal/internal/types"
)

// RepeatThreshold is how often a question must recur before History notes it.
const RepeatThreshold = 5

// History returns the newest limit turns in chronological order. When the
// user keeps asking the same thing a system note is appended.
func (c *Chat) History(ctx context.Context, userID, characterID string, limit int) ([]types.ConversationTurn, error) {
	character, err := c.character(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	conversationID := character.Key().ID()
	turns, err := c.turns.ReadOrdered(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	slices.Reverse(turns)

	if note := RepeatedQuestions(turns, RepeatThreshold); note != "" {
		turns = append(turns, types.ConversationTurn{
			ConversationID: conversationID,
			Sender:         string(types.RoleSystem),
			Role:           types.RoleSystem,
			Content:        note,
			CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		})
	}
	return turns, nil
}

// RepeatedQuestions summarizes user messages that occur at least threshold
// times, compared case-insensitively. It returns "" when nothing repeats.
func RepeatedQuestions(turns []types.ConversationTurn, threshold int) string {
	type counted struct {
		text  string
		count int
		first int
	}
	counts := make(map[string]*counted)
	for i, t := range turns {
		if t.Role != types.RoleUser {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(t.Content))
		if text == "" {
			continue
		}
		if c, ok := counts[text]; ok {
			c.count++
			continue
		}
		counts[text] = &counted{text: text, count: 1, first: i}
	}

	var repeated []*counted
	for _, c := range counts {
		if c.count >= threshold {
			repeated = append(repeated, c)
		}
	}
	if len(repeated) == 0 {
		return ""
	}
	slices.SortFunc(repeated, func(a, b *counted) int { return cmp.Compare(a.first, b.first) })

	lines := make([]string, len(repeated))
	for i, c := range repeated {
		lines[i] = fmt.Sprintf("사용자가 '%s'라는 질문을 %d번 했어요.", c.text, c.count)
	}
	return strings.Join(lines, " / ")
}

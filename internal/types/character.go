package types

import "time"

// Character is the persisted pet profile owned by a user.
type Character struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Nickname             string    `json:"nickname"`
	AnimalType           string    `json:"animal_type"`
	Personality          string    `json:"personality"`
	SpeechStyle          string    `json:"speech_style"`
	SpeciesSpeechPattern string    `json:"species_speech_pattern"`
	EmojiStyle           string    `json:"emoji_style"`
	UserNickname         string    `json:"user_nickname"`
	LastMessage          string    `json:"last_message"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Key returns the conversation key between the character and its owner.
func (c *Character) Key() ConversationKey {
	return ConversationKey{UserID: c.UserID, CharacterID: c.ID}
}

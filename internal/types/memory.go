package types

import "time"

// ConversationKey identifies the conversation between a user and one of their characters.
type ConversationKey struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
}

// ID is the conversation identifier used for storage and index files.
func (k ConversationKey) ID() string {
	return k.UserID + "-" + k.CharacterID
}

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleCharacter Role = "character"
	RoleSystem    Role = "system"
)

// ConversationTurn is one immutable message in a conversation log.
// Turns order by (CreatedAt, Tiebreak).
type ConversationTurn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Tiebreak       int64     `json:"tiebreak"`
	// Embedding is kept with the turn so indexes can be rebuilt without
	// re-embedding; EmbeddingModel names the model that produced it.
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"-"`
}

// VectorRecord is one entry of a conversation's vector index.
type VectorRecord struct {
	ConversationID string    `json:"conversation_id"`
	LocalID        int       `json:"local_id"`
	Embedding      []float32 `json:"-"`
	SourceText     string    `json:"source_text"`
}

// AttributeKey names a profile attribute.
type AttributeKey string

const (
	AttributeIdentity    AttributeKey = "identity"
	AttributeHobby       AttributeKey = "hobby"
	AttributeOccupation  AttributeKey = "occupation"
	AttributeResidence   AttributeKey = "residence"
	AttributeAge         AttributeKey = "age"
	AttributeMBTI        AttributeKey = "mbti"
	AttributeDisposition AttributeKey = "disposition"
)

// AttributeKeys lists every known attribute.
var AttributeKeys = []AttributeKey{
	AttributeIdentity,
	AttributeHobby,
	AttributeOccupation,
	AttributeResidence,
	AttributeAge,
	AttributeMBTI,
	AttributeDisposition,
}

// ProfileFact is a (subject, attribute, value) tuple mined from conversation text.
type ProfileFact struct {
	Subject   string       `json:"subject"`
	Attribute AttributeKey `json:"attribute"`
	Value     string       `json:"value"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Exchange is one entry of the short-term memory buffer.
type Exchange struct {
	Input     string `json:"input"`
	Output    string `json:"output"`
	Synthetic bool   `json:"synthetic"`
}

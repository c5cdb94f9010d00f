package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/types"
)

// turnModel maps to the chat_turns table.
type turnModel struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ConversationID string    `gorm:"size:255;not null;index:idx_chat_turns_order,priority:1"`
	Sender         string    `gorm:"size:255"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_chat_turns_order,priority:2"`
	Tiebreak       int64     `gorm:"not null;index:idx_chat_turns_order,priority:3"`
	// Embedding is kept so rebuilds can skip re-embedding.
	Embedding      *pgvector.Vector `gorm:"type:vector"`
	EmbeddingModel string           `gorm:"size:255"`
}

func (turnModel) TableName() string {
	return "chat_turns"
}

// TurnRepo is the append-only conversation log.
type TurnRepo struct {
	db  *gorm.DB
	seq atomic.Int64
	now func() time.Time
}

// NewTurnRepo returns a TurnRepo.
func NewTurnRepo(db *gorm.DB) *TurnRepo {
	return &TurnRepo{db: db, now: time.Now}
}

var _ memory.TurnStore = (*TurnRepo)(nil)

// AppendTurn assigns the id, creation time and tiebreak and inserts the turn.
func (r *TurnRepo) AppendTurn(ctx context.Context, turn *types.ConversationTurn) (string, error) {
	if turn == nil {
		return "", fmt.Errorf("turn cannot be nil")
	}
	turn.ID = uuid.NewString()
	turn.CreatedAt = r.now().UTC().Truncate(time.Millisecond)
	turn.Tiebreak = r.seq.Add(1)

	record := turnToModel(*turn)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to insert turn: %w", err)
	}
	return turn.ID, nil
}

// ReadOrdered returns the conversation's turns oldest first. With limit > 0 it
// returns the newest limit turns, newest first.
func (r *TurnRepo) ReadOrdered(ctx context.Context, conversationID string, limit int) ([]types.ConversationTurn, error) {
	query := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if limit > 0 {
		query = query.Order("created_at DESC").Order("tiebreak DESC").Limit(limit)
	} else {
		query = query.Order("created_at ASC").Order("tiebreak ASC")
	}

	var records []turnModel
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	turns := make([]types.ConversationTurn, 0, len(records))
	for _, record := range records {
		turns = append(turns, turnFromModel(record))
	}
	return turns, nil
}

// DeleteConversation removes every turn of the conversation.
func (r *TurnRepo) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&turnModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete turns: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListConversations returns the ids of conversations that have turns.
func (r *TurnRepo) ListConversations(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&turnModel{}).
		Distinct("conversation_id").
		Order("conversation_id").
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return ids, nil
}

func turnToModel(turn types.ConversationTurn) turnModel {
	var vector *pgvector.Vector
	if len(turn.Embedding) > 0 {
		v := pgvector.NewVector(turn.Embedding)
		vector = &v
	}
	return turnModel{
		ID:             turn.ID,
		ConversationID: turn.ConversationID,
		Sender:         turn.Sender,
		Role:           string(turn.Role),
		Content:        turn.Content,
		CreatedAt:      turn.CreatedAt,
		Tiebreak:       turn.Tiebreak,
		Embedding:      vector,
		EmbeddingModel: turn.EmbeddingModel,
	}
}

func turnFromModel(record turnModel) types.ConversationTurn {
	turn := types.ConversationTurn{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Sender:         record.Sender,
		Role:           types.Role(record.Role),
		Content:        record.Content,
		CreatedAt:      record.CreatedAt,
		Tiebreak:       record.Tiebreak,
		EmbeddingModel: record.EmbeddingModel,
	}
	if record.Embedding != nil {
		turn.Embedding = record.Embedding.Slice()
	}
	return turn
}

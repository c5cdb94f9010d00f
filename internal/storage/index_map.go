package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// indexEntryModel maps a record of a conversation's vector index to the turn
// it was built from.
type indexEntryModel struct {
	ConversationID string `gorm:"primaryKey;size:255"`
	LocalID        int    `gorm:"primaryKey;autoIncrement:false"`
	TurnID         string `gorm:"size:36;not null"`
}

func (indexEntryModel) TableName() string {
	return "index_entries"
}

// AppendIndexEntry records that localID of the conversation's index came from turnID.
func (r *TurnRepo) AppendIndexEntry(ctx context.Context, conversationID string, localID int, turnID string) error {
	record := indexEntryModel{ConversationID: conversationID, LocalID: localID, TurnID: turnID}
	if err := r.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to save index entry: %w", err)
	}
	return nil
}

// ReplaceIndexMap swaps the conversation's id map for turnIDs, indexed by local id.
func (r *TurnRepo) ReplaceIndexMap(ctx context.Context, conversationID string, turnIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&indexEntryModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear index map: %w", err)
		}
		if len(turnIDs) == 0 {
			return nil
		}
		records := make([]indexEntryModel, len(turnIDs))
		for i, id := range turnIDs {
			records[i] = indexEntryModel{ConversationID: conversationID, LocalID: i, TurnID: id}
		}
		if err := tx.CreateInBatches(records, 500).Error; err != nil {
			return fmt.Errorf("failed to insert index map: %w", err)
		}
		return nil
	})
}

// LoadIndexMap returns turn ids ordered by local id.
func (r *TurnRepo) LoadIndexMap(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&indexEntryModel{}).
		Where("conversation_id = ?", conversationID).
		Order("local_id ASC").
		Pluck("turn_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load index map: %w", err)
	}
	return ids, nil
}

// DeleteIndexMap removes the conversation's id map. Missing rows are not an error.
func (r *TurnRepo) DeleteIndexMap(ctx context.Context, conversationID string) error {
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&indexEntryModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete index map: %w", err)
	}
	return nil
}

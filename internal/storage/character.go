package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/easeaico/petpal/internal/types"
)

type characterModel struct {
	ID                   string `gorm:"primaryKey;size:36"`
	UserID               string `gorm:"size:255;not null;index"`
	Nickname             string `gorm:"size:255;not null"`
	AnimalType           string `gorm:"size:64"`
	Personality          string `gorm:"type:text"`
	SpeechStyle          string `gorm:"type:text"`
	SpeciesSpeechPattern string `gorm:"type:text"`
	EmojiStyle           string `gorm:"size:64"`
	UserNickname         string `gorm:"size:255"`
	LastMessage          string `gorm:"type:text"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (characterModel) TableName() string {
	return "characters"
}

// CharacterRepo accesses pets.
type CharacterRepo struct {
	db *gorm.DB
}

// NewCharacterRepo returns a CharacterRepo.
func NewCharacterRepo(db *gorm.DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

// Create inserts the character, assigning an id when it has none.
func (r *CharacterRepo) Create(ctx context.Context, character *types.Character) error {
	if character == nil {
		return fmt.Errorf("character cannot be nil")
	}
	if character.ID == "" {
		character.ID = uuid.NewString()
	}
	record := characterToModel(*character)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert character: %w", err)
	}
	character.CreatedAt = record.CreatedAt
	character.UpdatedAt = record.UpdatedAt
	return nil
}

func (r *CharacterRepo) GetByID(ctx context.Context, id string) (*types.Character, error) {
	var model characterModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to get character by id: %w", notFound(err))
	}
	return characterFromModel(model), nil
}

// GetDefault fetches the oldest character.
func (r *CharacterRepo) GetDefault(ctx context.Context) (*types.Character, error) {
	var model characterModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Limit(1).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to get default character: %w", notFound(err))
	}
	return characterFromModel(model), nil
}

func (r *CharacterRepo) ListByUser(ctx context.Context, userID string) ([]types.Character, error) {
	var records []characterModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	out := make([]types.Character, 0, len(records))
	for _, record := range records {
		out = append(out, *characterFromModel(record))
	}
	return out, nil
}

// UpdateLastMessage stores the latest reply shown in the pet list.
func (r *CharacterRepo) UpdateLastMessage(ctx context.Context, id, message string) error {
	res := r.db.WithContext(ctx).Model(&characterModel{}).Where("id = ?", id).
		Updates(map[string]any{"last_message": message, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update last message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update last message: %w", ErrNotFound)
	}
	return nil
}

// Delete removes the character row. Missing rows are not an error.
func (r *CharacterRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&characterModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete character: %w", err)
	}
	return nil
}

func characterToModel(c types.Character) characterModel {
	return characterModel{
		ID:                   c.ID,
		UserID:               c.UserID,
		Nickname:             c.Nickname,
		AnimalType:           c.AnimalType,
		Personality:          c.Personality,
		SpeechStyle:          c.SpeechStyle,
		SpeciesSpeechPattern: c.SpeciesSpeechPattern,
		EmojiStyle:           c.EmojiStyle,
		UserNickname:         c.UserNickname,
		LastMessage:          c.LastMessage,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func characterFromModel(model characterModel) *types.Character {
	return &types.Character{
		ID:                   model.ID,
		UserID:               model.UserID,
		Nickname:             model.Nickname,
		AnimalType:           model.AnimalType,
		Personality:          model.Personality,
		SpeechStyle:          model.SpeechStyle,
		SpeciesSpeechPattern: model.SpeciesSpeechPattern,
		EmojiStyle:           model.EmojiStyle,
		UserNickname:         model.UserNickname,
		LastMessage:          model.LastMessage,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}
}

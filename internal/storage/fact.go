package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/types"
)

// factModel maps to the profile_facts table.
type factModel struct {
	Subject   string `gorm:"primaryKey;size:255"`
	Attribute string `gorm:"primaryKey;size:32"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (factModel) TableName() string {
	return "profile_facts"
}

// FactRepo snapshots the profile fact table.
type FactRepo struct {
	db *gorm.DB
}

// NewFactRepo returns a FactRepo.
func NewFactRepo(db *gorm.DB) *FactRepo {
	return &FactRepo{db: db}
}

var _ profile.Snapshotter = (*FactRepo)(nil)

// UpsertFact writes fact, replacing the previous value of the same attribute.
func (r *FactRepo) UpsertFact(ctx context.Context, fact types.ProfileFact) error {
	record := factModel{
		Subject:   fact.Subject,
		Attribute: string(fact.Attribute),
		Value:     fact.Value,
		UpdatedAt: fact.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}, {Name: "attribute"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert profile fact: %w", err)
	}
	return nil
}

func (r *FactRepo) ListFacts(ctx context.Context) ([]types.ProfileFact, error) {
	var records []factModel
	if err := r.db.WithContext(ctx).Order("subject, attribute").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list profile facts: %w", err)
	}
	facts := make([]types.ProfileFact, 0, len(records))
	for _, record := range records {
		facts = append(facts, types.ProfileFact{
			Subject:   record.Subject,
			Attribute: types.AttributeKey(record.Attribute),
			Value:     record.Value,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return facts, nil
}

func (r *FactRepo) DeleteSubject(ctx context.Context, subject string) error {
	if err := r.db.WithContext(ctx).Where("subject = ?", subject).Delete(&factModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete profile facts: %w", err)
	}
	return nil
}

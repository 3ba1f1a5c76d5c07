package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"openhl7/gateway/internal/model"
)

// GormArchive stores records in the hl7_messages table
type GormArchive struct {
	db *gorm.DB
}

// NewGormArchive creates a database-backed archive
func NewGormArchive(db *gorm.DB) *GormArchive {
	return &GormArchive{db: db}
}

// Migrate creates or updates the archive table
func (g *GormArchive) Migrate() error {
	return g.db.AutoMigrate(&model.MessageRecord{})
}

// Save implements Archive
func (g *GormArchive) Save(ctx context.Context, record *model.MessageRecord) error {
	if err := g.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save message %s: %w", record.ControlID, err)
	}
	return nil
}

// List implements Archive
func (g *GormArchive) List(ctx context.Context, query model.MessageListQuery) (*model.MessageListResponse, error) {
	query.Normalize()

	db := g.db.WithContext(ctx).Model(&model.MessageRecord{})
	if query.Type != "" {
		db = db.Where("message_type LIKE ?", escapeLike(query.Type)+"%")
	}
	if query.Query != "" {
		db = db.Where("LOWER(inbound) LIKE ?", "%"+escapeLike(strings.ToLower(query.Query))+"%")
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	records := make([]model.MessageRecord, 0)
	if err := db.Order("received_at DESC").
		Offset(query.Offset()).
		Limit(query.PageSize).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &model.MessageListResponse{
		Data:     records,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
	}, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

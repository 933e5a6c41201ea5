package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"rebate/internal/models/db_models"
)

type ScanSessionRepository interface {
	Create(ctx context.Context, session *db_models.ScanSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*db_models.ScanSession, error)
}

type scanSessionRepository struct {
	db *gorm.DB
}

func NewScanSessionRepository(db *gorm.DB) ScanSessionRepository {
	return &scanSessionRepository{db: db}
}

func (r *scanSessionRepository) Create(ctx context.Context, session *db_models.ScanSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *scanSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.ScanSession, error) {
	var session db_models.ScanSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

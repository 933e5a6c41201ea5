package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories"
)

type ScanSessionRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]db_models.ScanSession
}

func NewScanSessionRepository() *ScanSessionRepository {
	return &ScanSessionRepository{rows: make(map[uuid.UUID]db_models.ScanSession)}
}

var _ repositories.ScanSessionRepository = (*ScanSessionRepository)(nil)

func (r *ScanSessionRepository) Create(ctx context.Context, session *db_models.ScanSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session.EnsureID(time.Now())
	if _, exists := r.rows[session.ID]; exists {
		return errors.New("memory: duplicate scan session id")
	}
	r.rows[session.ID] = *session
	return nil
}

func (r *ScanSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.ScanSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// Package memory holds in-process implementations of the repository
// interfaces with the same conditional-update semantics as the postgres
// ones. Tests and local tooling use them.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories"
)

var ErrNotFound = errors.New("memory: record not found")

type SubmissionRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*db_models.Submission
}

func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{rows: make(map[uuid.UUID]*db_models.Submission)}
}

var _ repositories.SubmissionRepository = (*SubmissionRepository)(nil)

func clone(s *db_models.Submission) *db_models.Submission {
	out := *s
	out.AuditLog = append([]string(nil), s.AuditLog...)
	out.DecisionSnapshot = append([]byte(nil), s.DecisionSnapshot...)
	if s.ConfidenceScore != nil {
		v := *s.ConfidenceScore
		out.ConfidenceScore = &v
	}
	if s.ReviewReason != nil {
		v := *s.ReviewReason
		out.ReviewReason = &v
	}
	if s.DecidedAt != nil {
		v := *s.DecidedAt
		out.DecidedAt = &v
	}
	if s.PayoutReference != nil {
		v := *s.PayoutReference
		out.PayoutReference = &v
	}
	if s.PaidAt != nil {
		v := *s.PaidAt
		out.PaidAt = &v
	}
	if s.PayoutLockedUntil != nil {
		v := *s.PayoutLockedUntil
		out.PayoutLockedUntil = &v
	}
	return &out
}

func (r *SubmissionRepository) touch(s *db_models.Submission) {
	s.UpdatedAt = time.Now().Unix()
}

func (r *SubmissionRepository) Create(ctx context.Context, submission *db_models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	submission.EnsureID(time.Now())
	if submission.Status == "" {
		submission.Status = db_models.SubmissionPending
	}
	if _, exists := r.rows[submission.ID]; exists {
		return errors.New("memory: duplicate submission id")
	}
	if submission.HasPayoutReference() {
		for _, row := range r.rows {
			if row.HasPayoutReference() && *row.PayoutReference == *submission.PayoutReference {
				return errors.New("memory: duplicate payout reference")
			}
		}
	}
	r.rows[submission.ID] = clone(submission)
	return nil
}

func (r *SubmissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return clone(row), nil
}

func (r *SubmissionRepository) FindByPayoutReference(ctx context.Context, reference string) (*db_models.Submission, error) {
	if reference == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.HasPayoutReference() && *row.PayoutReference == reference {
			return clone(row), nil
		}
	}
	return nil, nil
}

func (r *SubmissionRepository) RecordDecision(ctx context.Context, id uuid.UUID, decision repositories.SubmissionDecision) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != db_models.SubmissionPending || row.DecidedAt != nil {
		return false, nil
	}

	row.Status = decision.Status
	if decision.ConfidenceScore != nil {
		v := *decision.ConfidenceScore
		row.ConfidenceScore = &v
	} else {
		row.ConfidenceScore = nil
	}
	row.AutoApproved = decision.AutoApproved
	if decision.ReviewReason != "" {
		reason := decision.ReviewReason
		row.ReviewReason = &reason
	} else {
		row.ReviewReason = nil
	}
	decidedAt := decision.DecidedAt
	row.DecidedAt = &decidedAt
	if len(decision.Snapshot) > 0 {
		row.DecisionSnapshot = append([]byte(nil), decision.Snapshot...)
	}
	row.AuditLog = append(row.AuditLog, decision.AuditNote)
	r.touch(row)
	return true, nil
}

func (r *SubmissionRepository) ApplyReview(ctx context.Context, id uuid.UUID, status db_models.SubmissionStatus, reason string, note string) (bool, error) {
	if !db_models.SubmissionPending.CanTransitionTo(status) {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != db_models.SubmissionPending {
		return false, nil
	}
	row.Status = status
	row.AutoApproved = false
	if status == db_models.SubmissionRejected {
		row.ReviewReason = &reason
	} else {
		row.ReviewReason = nil
	}
	row.AuditLog = append(row.AuditLog, note)
	r.touch(row)
	return true, nil
}

func (r *SubmissionRepository) ClaimPayoutAttempt(ctx context.Context, id uuid.UUID, now, leaseUntil int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != db_models.SubmissionApproved || row.PayoutReference != nil {
		return false, nil
	}
	if row.PayoutLockedUntil != nil && *row.PayoutLockedUntil >= now {
		return false, nil
	}
	row.PayoutAttempts++
	row.PayoutLockedUntil = &leaseUntil
	r.touch(row)
	return true, nil
}

func (r *SubmissionRepository) ReleasePayoutClaim(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.PayoutLockedUntil = nil
	r.touch(row)
	return nil
}

func (r *SubmissionRepository) MarkPaid(ctx context.Context, id uuid.UUID, reference string, paidAt int64, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != db_models.SubmissionApproved || row.PayoutReference != nil {
		return false, nil
	}
	for _, other := range r.rows {
		if other.HasPayoutReference() && *other.PayoutReference == reference {
			return false, errors.New("memory: duplicate payout reference")
		}
	}
	row.Status = db_models.SubmissionPaid
	row.PayoutReference = &reference
	row.PaidAt = &paidAt
	row.PayoutLockedUntil = nil
	row.AuditLog = append(row.AuditLog, note)
	r.touch(row)
	return true, nil
}

func (r *SubmissionRepository) InvalidatePayout(ctx context.Context, id uuid.UUID, reference string, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != db_models.SubmissionPaid || !row.HasPayoutReference() || *row.PayoutReference != reference {
		return false, nil
	}
	row.Status = db_models.SubmissionApproved
	row.PayoutReference = nil
	row.PaidAt = nil
	row.PayoutGeneration++
	row.AuditLog = append(row.AuditLog, note)
	r.touch(row)
	return true, nil
}

func (r *SubmissionRepository) AppendAudit(ctx context.Context, id uuid.UUID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.AuditLog = append(row.AuditLog, note)
	r.touch(row)
	return nil
}

func (r *SubmissionRepository) HasRecentPayout(ctx context.Context, payeeAddress string, since int64, excludeID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.ID == excludeID || row.PayeeAddress != payeeAddress || row.Status != db_models.SubmissionPaid {
			continue
		}
		if row.PaidAt != nil && *row.PaidAt >= since {
			return true, nil
		}
	}
	return false, nil
}

func (r *SubmissionRepository) CountSettledForSession(ctx context.Context, sessionID uuid.UUID, excludeID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.rows {
		if row.ID == excludeID || row.SessionID != sessionID {
			continue
		}
		if row.Status == db_models.SubmissionApproved || row.Status == db_models.SubmissionPaid {
			n++
		}
	}
	return n, nil
}

func (r *SubmissionRepository) ListPending(ctx context.Context, page, pageSize int) ([]db_models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]db_models.Submission, 0)
	for _, row := range r.rows {
		if row.Status == db_models.SubmissionPending {
			pending = append(pending, *clone(row))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt == pending[j].CreatedAt {
			return pending[i].ID.String() < pending[j].ID.String()
		}
		return pending[i].CreatedAt < pending[j].CreatedAt
	})

	start := (page - 1) * pageSize
	if start >= len(pending) {
		return []db_models.Submission{}, nil
	}
	end := start + pageSize
	if end > len(pending) {
		end = len(pending)
	}
	return pending[start:end], nil
}

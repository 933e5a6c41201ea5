package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"rebate/internal/models/db_models"
)

// SubmissionDecision is written by the single decision pass.
type SubmissionDecision struct {
	Status          db_models.SubmissionStatus
	ConfidenceScore *float64
	AutoApproved    bool
	ReviewReason    string
	DecidedAt       int64
	Snapshot        datatypes.JSON
	AuditNote       string
}

// SubmissionRepository is the record store. Every state change is a
// conditional update; the bool result reports whether the precondition held
// and a row changed.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *db_models.Submission) error
	FindByID(ctx context.Context, id uuid.UUID) (*db_models.Submission, error)
	FindByPayoutReference(ctx context.Context, reference string) (*db_models.Submission, error)

	// RecordDecision applies only while status=pending and no decision pass ran.
	RecordDecision(ctx context.Context, id uuid.UUID, decision SubmissionDecision) (bool, error)
	// ApplyReview moves a pending submission to approved or rejected by hand.
	ApplyReview(ctx context.Context, id uuid.UUID, status db_models.SubmissionStatus, reason string, note string) (bool, error)

	// ClaimPayoutAttempt takes the payout lease until leaseUntil and bumps
	// payout_attempts, while status=approved, no reference exists and no
	// unexpired lease is held.
	ClaimPayoutAttempt(ctx context.Context, id uuid.UUID, now, leaseUntil int64) (bool, error)
	ReleasePayoutClaim(ctx context.Context, id uuid.UUID) error
	MarkPaid(ctx context.Context, id uuid.UUID, reference string, paidAt int64, note string) (bool, error)
	// InvalidatePayout reverts paid -> approved when the stored reference matches.
	InvalidatePayout(ctx context.Context, id uuid.UUID, reference string, note string) (bool, error)

	AppendAudit(ctx context.Context, id uuid.UUID, note string) error

	HasRecentPayout(ctx context.Context, payeeAddress string, since int64, excludeID uuid.UUID) (bool, error)
	CountSettledForSession(ctx context.Context, sessionID uuid.UUID, excludeID uuid.UUID) (int64, error)
	ListPending(ctx context.Context, page, pageSize int) ([]db_models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func appendAudit(note string) interface{} {
	return gorm.Expr("array_append(audit_log, ?)", note)
}

func (r *submissionRepository) Create(ctx context.Context, submission *db_models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.Submission, error) {
	var submission db_models.Submission
	err := r.db.WithContext(ctx).First(&submission, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) FindByPayoutReference(ctx context.Context, reference string) (*db_models.Submission, error) {
	if reference == "" {
		return nil, nil
	}
	var submission db_models.Submission
	err := r.db.WithContext(ctx).First(&submission, "payout_reference = ?", reference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) RecordDecision(ctx context.Context, id uuid.UUID, decision SubmissionDecision) (bool, error) {
	updates := map[string]interface{}{
		"status":           decision.Status,
		"confidence_score": decision.ConfidenceScore,
		"auto_approved":    decision.AutoApproved,
		"decided_at":       decision.DecidedAt,
		"audit_log":        appendAudit(decision.AuditNote),
	}
	if decision.ReviewReason != "" {
		updates["review_reason"] = decision.ReviewReason
	} else {
		updates["review_reason"] = nil
	}
	if len(decision.Snapshot) > 0 {
		updates["decision_snapshot"] = decision.Snapshot
	}

	res := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ? AND status = ? AND decided_at IS NULL", id, db_models.SubmissionPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *submissionRepository) ApplyReview(ctx context.Context, id uuid.UUID, status db_models.SubmissionStatus, reason string, note string) (bool, error) {
	if !db_models.SubmissionPending.CanTransitionTo(status) {
		return false, nil
	}
	updates := map[string]interface{}{
		"status":        status,
		"auto_approved": false,
		"audit_log":     appendAudit(note),
	}
	// The flag reason only describes a pending submission.
	if status == db_models.SubmissionRejected {
		updates["review_reason"] = reason
	} else {
		updates["review_reason"] = nil
	}

	res := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ? AND status = ?", id, db_models.SubmissionPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *submissionRepository) ClaimPayoutAttempt(ctx context.Context, id uuid.UUID, now, leaseUntil int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ? AND status = ? AND payout_reference IS NULL AND (payout_locked_until IS NULL OR payout_locked_until < ?)",
			id, db_models.SubmissionApproved, now).
		Updates(map[string]interface{}{
			"payout_attempts":     gorm.Expr("payout_attempts + 1"),
			"payout_locked_until": leaseUntil,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *submissionRepository) ReleasePayoutClaim(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ?", id).
		Update("payout_locked_until", nil).Error
}

func (r *submissionRepository) MarkPaid(ctx context.Context, id uuid.UUID, reference string, paidAt int64, note string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ? AND status = ? AND payout_reference IS NULL", id, db_models.SubmissionApproved).
		Updates(map[string]interface{}{
			"status":              db_models.SubmissionPaid,
			"payout_reference":    reference,
			"paid_at":             paidAt,
			"payout_locked_until": nil,
			"audit_log":           appendAudit(note),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *submissionRepository) InvalidatePayout(ctx context.Context, id uuid.UUID, reference string, note string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ? AND status = ? AND payout_reference = ?", id, db_models.SubmissionPaid, reference).
		Updates(map[string]interface{}{
			"status":            db_models.SubmissionApproved,
			"payout_reference":  nil,
			"paid_at":           nil,
			"payout_generation": gorm.Expr("payout_generation + 1"),
			"audit_log":         appendAudit(note),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *submissionRepository) AppendAudit(ctx context.Context, id uuid.UUID, note string) error {
	res := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("id = ?", id).
		Update("audit_log", appendAudit(note))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *submissionRepository) HasRecentPayout(ctx context.Context, payeeAddress string, since int64, excludeID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("payee_address = ? AND status = ? AND paid_at >= ? AND id <> ?",
			payeeAddress, db_models.SubmissionPaid, since, excludeID).
		Count(&n).Error
	return n > 0, err
}

func (r *submissionRepository) CountSettledForSession(ctx context.Context, sessionID uuid.UUID, excludeID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&db_models.Submission{}).
		Where("session_id = ? AND status IN ? AND id <> ?",
			sessionID,
			[]db_models.SubmissionStatus{db_models.SubmissionApproved, db_models.SubmissionPaid},
			excludeID).
		Count(&n).Error
	return n, err
}

func (r *submissionRepository) ListPending(ctx context.Context, page, pageSize int) ([]db_models.Submission, error) {
	var submissions []db_models.Submission
	err := r.db.WithContext(ctx).
		Where("status = ?", db_models.SubmissionPending).
		Order("created_at ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&submissions).Error
	return submissions, err
}

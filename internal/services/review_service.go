package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"rebate/internal/models/db_models"
	"rebate/internal/models/response_models"
	"rebate/internal/repositories"
	"rebate/pkg/utils"
)

type ReviewResult struct {
	SubmissionID    uuid.UUID
	Status          db_models.SubmissionStatus
	PayoutAttempted bool
	PayoutSuccess   bool
	PayoutReference string
	PayoutError     string
}

// ReviewService is the manual side of the lifecycle: a reviewer settles
// what the decision pass left pending.
type ReviewService interface {
	ListPending(ctx context.Context, page, pageSize int) ([]response_models.SubmissionResponse, error)
	Approve(ctx context.Context, id uuid.UUID, reviewer, note string) (*ReviewResult, error)
	Reject(ctx context.Context, id uuid.UUID, reviewer, reason string) (*ReviewResult, error)
	RetryPayout(ctx context.Context, id uuid.UUID) (*PayoutResult, error)
}

type reviewService struct {
	submissions repositories.SubmissionRepository
	payouts     PayoutService
	log         *zap.Logger
	now         func() time.Time
}

func NewReviewService(
	submissions repositories.SubmissionRepository,
	payouts PayoutService,
	log *zap.Logger,
	now func() time.Time,
) ReviewService {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &reviewService{
		submissions: submissions,
		payouts:     payouts,
		log:         log.Named("review"),
		now:         now,
	}
}

func (r *reviewService) ListPending(ctx context.Context, page, pageSize int) ([]response_models.SubmissionResponse, error) {
	if page < 1 {
		return nil, utils.ErrInvalidPage
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, utils.ErrInvalidPageSize
	}
	subs, err := r.submissions.ListPending(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", utils.ErrPersistenceFailure, err)
	}
	out := make([]response_models.SubmissionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, *ToSubmissionResponse(&subs[i]))
	}
	return out, nil
}

// Approve moves a pending submission to approved and pays it. A payout
// failure does not undo the approval.
func (r *reviewService) Approve(ctx context.Context, id uuid.UUID, reviewer, note string) (*ReviewResult, error) {
	line := auditLine(r.now(), "approved by %s", reviewerName(reviewer))
	if note = strings.TrimSpace(note); note != "" {
		line += ": " + note
	}
	if err := r.review(ctx, id, db_models.SubmissionApproved, "", line); err != nil {
		return nil, err
	}
	r.log.Info("submission approved", zap.String("submission_id", id.String()), zap.String("reviewer", reviewer))

	result := &ReviewResult{SubmissionID: id, Status: db_models.SubmissionApproved, PayoutAttempted: true}
	payout, err := r.payouts.InitiatePayout(ctx, id)
	if err != nil {
		result.PayoutError = err.Error()
		r.log.Warn("payout after manual approval failed", zap.String("submission_id", id.String()), zap.Error(err))
		return result, nil
	}
	result.Status = db_models.SubmissionPaid
	result.PayoutSuccess = true
	result.PayoutReference = payout.PayoutReference
	return result, nil
}

func (r *reviewService) Reject(ctx context.Context, id uuid.UUID, reviewer, reason string) (*ReviewResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", utils.ErrInvalidInput)
	}
	line := auditLine(r.now(), "rejected by %s: %s", reviewerName(reviewer), reason)
	if err := r.review(ctx, id, db_models.SubmissionRejected, reason, line); err != nil {
		return nil, err
	}
	r.log.Info("submission rejected", zap.String("submission_id", id.String()), zap.String("reviewer", reviewer))
	return &ReviewResult{SubmissionID: id, Status: db_models.SubmissionRejected}, nil
}

// RetryPayout re-runs the initiator for an approved submission without a
// reference, e.g. after a processor outage or a webhook invalidation.
func (r *reviewService) RetryPayout(ctx context.Context, id uuid.UUID) (*PayoutResult, error) {
	return r.payouts.InitiatePayout(ctx, id)
}

func (r *reviewService) review(ctx context.Context, id uuid.UUID, status db_models.SubmissionStatus, reason, line string) error {
	ok, err := r.submissions.ApplyReview(ctx, id, status, reason, line)
	if err != nil {
		return fmt.Errorf("%w: apply review: %v", utils.ErrPersistenceFailure, err)
	}
	if ok {
		return nil
	}
	sub, err := r.submissions.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: load submission: %v", utils.ErrPersistenceFailure, err)
	}
	if sub == nil {
		return utils.ErrNotFound
	}
	return utils.ErrAlreadyProcessed
}

func reviewerName(reviewer string) string {
	if reviewer == "" {
		return "unknown reviewer"
	}
	return reviewer
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories"
	"rebate/pkg/metrics"
	"rebate/pkg/paypal"
	"rebate/pkg/utils"
)

// PayoutProcessor is the transfer half of the payment processor contract.
type PayoutProcessor interface {
	SendPayout(ctx context.Context, req paypal.PayoutRequest) (*paypal.PayoutReceipt, error)
}

type PayoutResult struct {
	SubmissionID    uuid.UUID
	PayoutReference string
	BatchID         string
	ItemStatus      string
}

type PayoutService interface {
	InitiatePayout(ctx context.Context, submissionID uuid.UUID) (*PayoutResult, error)
}

// DefaultClaimLease bounds how long a crashed caller can block a retry.
const DefaultClaimLease = 5 * time.Minute

type PayoutOptions struct {
	// Cooldown > 0 enables the per-payee repeat check.
	Cooldown   time.Duration
	Note       string
	ClaimLease time.Duration
}

type payoutService struct {
	submissions repositories.SubmissionRepository
	processor   PayoutProcessor
	opts        PayoutOptions
	log         *zap.Logger
	now         func() time.Time
}

func NewPayoutService(
	submissions repositories.SubmissionRepository,
	processor PayoutProcessor,
	opts PayoutOptions,
	log *zap.Logger,
	now func() time.Time,
) PayoutService {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = DefaultClaimLease
	}
	return &payoutService{
		submissions: submissions,
		processor:   processor,
		opts:        opts,
		log:         log.Named("payout"),
		now:         now,
	}
}

func auditLine(now time.Time, format string, args ...interface{}) string {
	return now.UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
}

// BatchIDFor derives the processor batch id. It is stable across retries in
// one payout generation, so the processor rejects an accidental resend.
func BatchIDFor(s *db_models.Submission) string {
	return fmt.Sprintf("%s-%d", s.ID, s.PayoutGeneration)
}

func (p *payoutService) InitiatePayout(ctx context.Context, submissionID uuid.UUID) (*PayoutResult, error) {
	log := p.log.With(zap.String("submission_id", submissionID.String()))

	sub, err := p.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load submission: %v", utils.ErrPersistenceFailure, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: submission not found", utils.ErrNotEligible)
	}
	if sub.Status != db_models.SubmissionApproved {
		return nil, fmt.Errorf("%w: status is %s", utils.ErrNotEligible, sub.Status)
	}
	if sub.HasPayoutReference() {
		return nil, fmt.Errorf("%w: payout already recorded", utils.ErrNotEligible)
	}

	if p.opts.Cooldown > 0 {
		since := p.now().Add(-p.opts.Cooldown).Unix()
		recent, err := p.submissions.HasRecentPayout(ctx, sub.PayeeAddress, since, sub.ID)
		switch {
		case err != nil:
			log.Warn("payee cooldown lookup failed, continuing", zap.Error(err))
		case recent:
			metrics.PayoutsTotal.WithLabelValues("cooldown").Inc()
			return nil, utils.ErrPayoutCooldown
		}
	}

	claimedAt := p.now()
	claimed, err := p.submissions.ClaimPayoutAttempt(ctx, sub.ID, claimedAt.Unix(), claimedAt.Add(p.opts.ClaimLease).Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: claim payout attempt: %v", utils.ErrPersistenceFailure, err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: another payout attempt is in progress", utils.ErrNotEligible)
	}
	attempt := sub.PayoutAttempts + 1

	req := paypal.PayoutRequest{
		SenderBatchID: BatchIDFor(sub),
		SenderItemID:  sub.ID.String(),
		Receiver:      sub.PayeeAddress,
		Amount: paypal.Amount{
			Value:    sub.PayoutAmount.StringFixed(2),
			Currency: sub.PayoutCurrency,
		},
		Note: p.opts.Note,
	}

	receipt, err := p.processor.SendPayout(ctx, req)
	if err != nil {
		kind := utils.ErrUpstreamRejected
		if errors.Is(err, paypal.ErrAuth) {
			kind = utils.ErrUpstreamAuthFailure
		}
		note := auditLine(p.now(), "payout attempt %d failed batch=%s: %v", attempt, req.SenderBatchID, err)
		if auditErr := p.submissions.AppendAudit(ctx, sub.ID, note); auditErr != nil {
			log.Error("could not record payout failure", zap.Error(auditErr), zap.String("note", note))
		}
		if releaseErr := p.submissions.ReleasePayoutClaim(ctx, sub.ID); releaseErr != nil {
			log.Warn("could not release payout claim, retry waits for the lease", zap.Error(releaseErr))
		}
		log.Warn("payout failed", zap.Int("attempt", attempt), zap.Error(err))
		metrics.PayoutsTotal.WithLabelValues("processor_error").Inc()
		return nil, fmt.Errorf("%w: %v", kind, err)
	}

	reference := receipt.ItemID
	if reference == "" {
		reference = receipt.BatchID
	}
	paidAt := p.now()
	note := auditLine(paidAt, "payout sent attempt=%d batch=%s item=%s status=%s",
		attempt, receipt.BatchID, receipt.ItemID, receipt.ItemStatus)

	ok, err := p.submissions.MarkPaid(ctx, sub.ID, reference, paidAt.Unix(), note)
	if err != nil || !ok {
		// The transfer went out but the record did not move. A retry reuses
		// the same batch id, so the processor refuses to send it twice.
		log.Error("payout sent but not recorded",
			zap.String("payout_reference", reference),
			zap.String("batch_id", receipt.BatchID),
			zap.Bool("precondition_held", ok),
			zap.Error(err))
		lost := auditLine(paidAt, "payout sent but not recorded reference=%s batch=%s", reference, receipt.BatchID)
		if auditErr := p.submissions.AppendAudit(ctx, sub.ID, lost); auditErr != nil {
			log.Error("could not record unrecorded payout", zap.Error(auditErr), zap.String("note", lost))
		}
		metrics.PayoutsTotal.WithLabelValues("unrecorded").Inc()
		if err == nil {
			err = errors.New("submission changed during payout")
		}
		return nil, fmt.Errorf("%w: record payout %s: %v", utils.ErrPersistenceFailure, reference, err)
	}

	log.Info("payout recorded", zap.String("payout_reference", reference), zap.Int("attempt", attempt))
	metrics.PayoutsTotal.WithLabelValues("sent").Inc()
	return &PayoutResult{
		SubmissionID:    sub.ID,
		PayoutReference: reference,
		BatchID:         receipt.BatchID,
		ItemStatus:      receipt.ItemStatus,
	}, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories"
	"rebate/pkg/metrics"
	"rebate/pkg/utils"
)

const (
	WarningSessionAlreadyRewarded = "session_already_rewarded"
	ErrorScanSessionMissing       = "scan_session_not_found"
)

// ClientSignals are the validation fields relayed by the client. Server
// context (bottle confidence, detected brand) is never taken from here.
type ClientSignals struct {
	HasBrandKeyword    bool
	HasReceiptKeywords bool
	MatchedKeywords    []string
	DetectedText       string
	Warnings           []string
	Errors             []string
	IsLikelyRealPhoto  bool
}

type DecisionResult struct {
	SubmissionID    uuid.UUID
	Status          db_models.SubmissionStatus
	Scored          bool
	Score           float64
	AutoApproved    bool
	ReviewReason    string
	PayoutAttempted bool
	PayoutSuccess   bool
	PayoutReference string
	PayoutError     string
}

type DecisionService interface {
	Decide(ctx context.Context, submissionID uuid.UUID, client ClientSignals, clientIP string) (*DecisionResult, error)
}

type DecisionOptions struct {
	AutoApprovalEnabled bool
}

type decisionService struct {
	submissions repositories.SubmissionRepository
	sessions    repositories.ScanSessionRepository
	policy      ScoringPolicy
	guard       CapGuard
	payouts     PayoutService
	opts        DecisionOptions
	log         *zap.Logger
	now         func() time.Time
}

func NewDecisionService(
	submissions repositories.SubmissionRepository,
	sessions repositories.ScanSessionRepository,
	policy ScoringPolicy,
	guard CapGuard,
	payouts PayoutService,
	opts DecisionOptions,
	log *zap.Logger,
	now func() time.Time,
) DecisionService {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &decisionService{
		submissions: submissions,
		sessions:    sessions,
		policy:      policy,
		guard:       guard,
		payouts:     payouts,
		opts:        opts,
		log:         log.Named("decision"),
		now:         now,
	}
}

type decisionSnapshot struct {
	Signals   FraudSignals `json:"signals"`
	Result    ScoreResult  `json:"result"`
	Threshold float64      `json:"threshold"`
}

func (d *decisionService) Decide(ctx context.Context, submissionID uuid.UUID, client ClientSignals, clientIP string) (*DecisionResult, error) {
	log := d.log.With(zap.String("submission_id", submissionID.String()))

	sub, err := d.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load submission: %v", utils.ErrPersistenceFailure, err)
	}
	if sub == nil {
		return nil, utils.ErrNotFound
	}
	if sub.Status != db_models.SubmissionPending || sub.Decided() {
		return nil, utils.ErrAlreadyProcessed
	}

	if !d.opts.AutoApprovalEnabled {
		metrics.DecisionsTotal.WithLabelValues("disabled").Inc()
		return d.recordManual(ctx, sub, ReasonAutoApprovalDisabled)
	}
	reserved, err := d.guard.TryReserveSlot(ctx)
	if err != nil {
		log.Warn("daily cap guard unavailable, routing to manual review", zap.Error(err))
		metrics.DecisionsTotal.WithLabelValues("cap_unavailable").Inc()
		return d.recordManual(ctx, sub, ReasonCapGuardUnavailable)
	}
	if !reserved {
		metrics.DecisionsTotal.WithLabelValues("cap_reached").Inc()
		return d.recordManual(ctx, sub, ReasonDailyCapReached)
	}

	signals, err := d.buildSignals(ctx, sub, client, clientIP)
	if err != nil {
		return nil, err
	}
	result := d.policy.Score(signals)
	metrics.DecisionScore.Observe(result.Score)

	snapshot, err := json.Marshal(decisionSnapshot{Signals: signals, Result: result, Threshold: d.policy.Threshold})
	if err != nil {
		return nil, fmt.Errorf("encode decision snapshot: %w", err)
	}

	score := result.Score
	decision := repositories.SubmissionDecision{
		ConfidenceScore: &score,
		DecidedAt:       d.now().Unix(),
		Snapshot:        snapshot,
	}
	if result.AutoApprove {
		decision.Status = db_models.SubmissionApproved
		decision.AutoApproved = true
		decision.AuditNote = auditLine(d.now(), "auto-approved score=%.4f", score)
	} else {
		decision.Status = db_models.SubmissionPending
		decision.ReviewReason = result.ReviewReason
		decision.AuditNote = auditLine(d.now(), "flagged for review score=%.4f reason=%s", score, result.ReviewReason)
	}

	ok, err := d.submissions.RecordDecision(ctx, sub.ID, decision)
	if err != nil {
		return nil, fmt.Errorf("%w: record decision: %v", utils.ErrPersistenceFailure, err)
	}
	if !ok {
		return nil, utils.ErrAlreadyProcessed
	}

	out := &DecisionResult{
		SubmissionID: sub.ID,
		Status:       decision.Status,
		Scored:       true,
		Score:        score,
		AutoApproved: decision.AutoApproved,
		ReviewReason: decision.ReviewReason,
	}
	if !result.AutoApprove {
		log.Info("submission flagged", zap.Float64("score", score), zap.String("reason", result.ReviewReason))
		metrics.DecisionsTotal.WithLabelValues("flagged").Inc()
		return out, nil
	}

	metrics.DecisionsTotal.WithLabelValues("auto_approved").Inc()
	out.PayoutAttempted = true
	payout, err := d.payouts.InitiatePayout(ctx, sub.ID)
	if err != nil {
		// The approval stands; a reviewer can retry the payout without rescoring.
		out.PayoutError = err.Error()
		if !errors.Is(err, utils.ErrUpstreamAuthFailure) && !errors.Is(err, utils.ErrUpstreamRejected) {
			note := auditLine(d.now(), "payout after auto-approval not completed: %v", err)
			if auditErr := d.submissions.AppendAudit(ctx, sub.ID, note); auditErr != nil {
				log.Error("could not record payout failure", zap.Error(auditErr))
			}
		}
		log.Warn("auto-approved but payout failed", zap.Error(err))
		return out, nil
	}

	out.Status = db_models.SubmissionPaid
	out.PayoutSuccess = true
	out.PayoutReference = payout.PayoutReference
	log.Info("auto-approved and paid", zap.Float64("score", score), zap.String("payout_reference", payout.PayoutReference))
	return out, nil
}

// recordManual closes the decision pass without scoring.
func (d *decisionService) recordManual(ctx context.Context, sub *db_models.Submission, reason string) (*DecisionResult, error) {
	ok, err := d.submissions.RecordDecision(ctx, sub.ID, repositories.SubmissionDecision{
		Status:       db_models.SubmissionPending,
		ReviewReason: reason,
		DecidedAt:    d.now().Unix(),
		AuditNote:    auditLine(d.now(), "queued for manual review without scoring reason=%s", reason),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: record decision: %v", utils.ErrPersistenceFailure, err)
	}
	if !ok {
		return nil, utils.ErrAlreadyProcessed
	}
	d.log.Info("submission queued for manual review",
		zap.String("submission_id", sub.ID.String()), zap.String("reason", reason))
	return &DecisionResult{
		SubmissionID: sub.ID,
		Status:       db_models.SubmissionPending,
		ReviewReason: reason,
	}, nil
}

// buildSignals merges the client's report with what the server knows about
// the scan session.
func (d *decisionService) buildSignals(ctx context.Context, sub *db_models.Submission, client ClientSignals, clientIP string) (FraudSignals, error) {
	signals := FraudSignals{
		HasBrandKeyword:    client.HasBrandKeyword,
		HasReceiptKeywords: client.HasReceiptKeywords,
		MatchedKeywords:    append([]string(nil), client.MatchedKeywords...),
		DetectedText:       client.DetectedText,
		Warnings:           append([]string(nil), client.Warnings...),
		Errors:             append([]string(nil), client.Errors...),
		IsLikelyRealPhoto:  client.IsLikelyRealPhoto,
		ClientIP:           clientIP,
	}
	if signals.ClientIP == "" {
		signals.ClientIP = sub.ClientIP
	}

	session, err := d.sessions.FindByID(ctx, sub.SessionID)
	if err != nil {
		return signals, fmt.Errorf("%w: load scan session: %v", utils.ErrPersistenceFailure, err)
	}
	if session == nil {
		signals.Errors = append(signals.Errors, ErrorScanSessionMissing)
	} else {
		signals.BottleConfidence = session.BottleConfidence
		signals.DetectedBrand = session.DetectedBrand
	}

	settled, err := d.submissions.CountSettledForSession(ctx, sub.SessionID, sub.ID)
	if err != nil {
		return signals, fmt.Errorf("%w: session correlation: %v", utils.ErrPersistenceFailure, err)
	}
	if settled > 0 {
		signals.Warnings = append(signals.Warnings, WarningSessionAlreadyRewarded)
	}
	return signals, nil
}

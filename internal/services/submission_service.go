package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"rebate/internal/models/db_models"
	"rebate/internal/models/request_models"
	"rebate/internal/models/response_models"
	"rebate/internal/repositories"
	"rebate/pkg/utils"
)

const DefaultPayoutCurrency = "USD"

type SubmissionService interface {
	CreateScanSession(ctx context.Context, req request_models.CreateScanSessionRequest, clientIP string) (*response_models.ScanSessionResponse, error)
	CreateSubmission(ctx context.Context, req request_models.CreateSubmissionRequest, clientIP string) (*response_models.SubmissionResponse, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (*response_models.SubmissionResponse, error)
}

type submissionService struct {
	submissions repositories.SubmissionRepository
	sessions    repositories.ScanSessionRepository
	log         *zap.Logger
}

func NewSubmissionService(
	submissions repositories.SubmissionRepository,
	sessions repositories.ScanSessionRepository,
	log *zap.Logger,
) SubmissionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &submissionService{
		submissions: submissions,
		sessions:    sessions,
		log:         log.Named("submission"),
	}
}

func (s *submissionService) CreateScanSession(ctx context.Context, req request_models.CreateScanSessionRequest, clientIP string) (*response_models.ScanSessionResponse, error) {
	if req.BottleConfidence < 0 || req.BottleConfidence > 1 {
		return nil, fmt.Errorf("%w: bottle_confidence must be within [0,1]", utils.ErrInvalidInput)
	}
	session := &db_models.ScanSession{
		DetectedBrand:    strings.TrimSpace(req.DetectedBrand),
		BottleConfidence: req.BottleConfidence,
		ClientIP:         clientIP,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: create scan session: %v", utils.ErrPersistenceFailure, err)
	}
	return &response_models.ScanSessionResponse{
		ID:               session.ID.String(),
		DetectedBrand:    session.DetectedBrand,
		BottleConfidence: session.BottleConfidence,
	}, nil
}

func (s *submissionService) CreateSubmission(ctx context.Context, req request_models.CreateSubmissionRequest, clientIP string) (*response_models.SubmissionResponse, error) {
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session_id is not a uuid", utils.ErrInvalidInput)
	}
	amount, err := ParsePayoutAmount(req.PayoutAmount)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = DefaultPayoutCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code", utils.ErrInvalidInput)
	}
	payee := strings.ToLower(strings.TrimSpace(req.PayeeAddress))
	if payee == "" {
		return nil, fmt.Errorf("%w: payee_address is required", utils.ErrInvalidInput)
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load scan session: %v", utils.ErrPersistenceFailure, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: scan session %s", utils.ErrNotFound, sessionID)
	}

	sub := &db_models.Submission{
		SessionID:      sessionID,
		Status:         db_models.SubmissionPending,
		PayoutAmount:   amount,
		PayoutCurrency: currency,
		PayeeAddress:   payee,
		ReceiptURL:     strings.TrimSpace(req.ReceiptURL),
		ClientIP:       clientIP,
		AuditLog:       []string{},
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("%w: create submission: %v", utils.ErrPersistenceFailure, err)
	}
	s.log.Info("submission created",
		zap.String("submission_id", sub.ID.String()),
		zap.String("session_id", sessionID.String()))
	return ToSubmissionResponse(sub), nil
}

func (s *submissionService) GetSubmission(ctx context.Context, id uuid.UUID) (*response_models.SubmissionResponse, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load submission: %v", utils.ErrPersistenceFailure, err)
	}
	if sub == nil {
		return nil, utils.ErrNotFound
	}
	return ToSubmissionResponse(sub), nil
}

// ParsePayoutAmount accepts a positive amount with at most two decimals.
func ParsePayoutAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: payout_amount is not a number", utils.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: payout_amount must be positive", utils.ErrInvalidInput)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return decimal.Decimal{}, fmt.Errorf("%w: payout_amount has more than two decimals", utils.ErrInvalidInput)
	}
	return amount, nil
}

func ToSubmissionResponse(sub *db_models.Submission) *response_models.SubmissionResponse {
	resp := &response_models.SubmissionResponse{
		ID:             sub.ID.String(),
		SessionID:      sub.SessionID.String(),
		Status:         string(sub.Status),
		AutoApproved:   sub.AutoApproved,
		PayoutAmount:   sub.PayoutAmount.StringFixed(2),
		PayoutCurrency: sub.PayoutCurrency,
		PayeeAddress:   sub.PayeeAddress,
		CreatedAt:      utils.FormatUnixRFC3339(sub.CreatedAt),
		AuditLog:       append([]string{}, sub.AuditLog...),
	}
	if sub.ConfidenceScore != nil {
		score := *sub.ConfidenceScore
		resp.ConfidenceScore = &score
	}
	if sub.ReviewReason != nil {
		resp.ReviewReason = *sub.ReviewReason
	}
	if sub.HasPayoutReference() {
		resp.PayoutReference = *sub.PayoutReference
	}
	if sub.PaidAt != nil {
		resp.PaidAt = utils.FormatUnixRFC3339(*sub.PaidAt)
	}
	return resp
}

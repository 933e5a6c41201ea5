package db_models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
	SubmissionPaid     SubmissionStatus = "paid"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// paid -> approved is reserved for payout invalidation by the webhook path.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	switch s {
	case SubmissionPending:
		return next == SubmissionApproved || next == SubmissionRejected
	case SubmissionApproved:
		return next == SubmissionPaid
	case SubmissionPaid:
		return next == SubmissionApproved
	default:
		return false
	}
}

// Submission is one proof-of-purchase upload moving through
// decision -> payout -> reconciliation.
type Submission struct {
	BaseModel
	SessionID uuid.UUID        `gorm:"type:uuid;index;not null"`
	Status    SubmissionStatus `gorm:"type:varchar(16);index;not null;default:'pending'"`

	// Decision fields, written once by the decision pass.
	ConfidenceScore *float64
	AutoApproved    bool `gorm:"not null;default:false"`
	ReviewReason    *string
	DecidedAt       *int64

	// Payout fields. PayoutReference is the processor's item id and the
	// idempotency anchor: at most one live reference per submission.
	PayoutAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PayoutCurrency  string          `gorm:"size:3;not null"`
	PayeeAddress    string          `gorm:"index;not null"`
	PayoutReference *string         `gorm:"uniqueIndex"`
	PayoutAttempts  int             `gorm:"not null;default:0"`
	// PayoutGeneration advances on each invalidation. The processor batch id
	// is derived from it, so retries inside one generation are deduplicated
	// by the processor.
	PayoutGeneration int    `gorm:"not null;default:0"`
	PaidAt           *int64 `gorm:"index"`
	// PayoutLockedUntil is the lease held by the caller currently talking to
	// the processor. An expired lease may be taken over.
	PayoutLockedUntil *int64

	ReceiptURL string
	ClientIP   string `gorm:"size:64"`

	// Signal bundle and score breakdown as seen by the decision pass.
	DecisionSnapshot datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
	AuditLog         pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
}

func (s *Submission) HasPayoutReference() bool {
	return s.PayoutReference != nil && *s.PayoutReference != ""
}

func (s *Submission) Decided() bool {
	return s.DecidedAt != nil
}

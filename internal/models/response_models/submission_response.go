package response_models

type SubmissionResponse struct {
	ID              string   `json:"id"`
	SessionID       string   `json:"session_id"`
	Status          string   `json:"status"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	AutoApproved    bool     `json:"auto_approved"`
	ReviewReason    string   `json:"review_reason,omitempty"`
	PayoutAmount    string   `json:"payout_amount"`
	PayoutCurrency  string   `json:"payout_currency"`
	PayeeAddress    string   `json:"payee_address"`
	PayoutReference string   `json:"payout_reference,omitempty"`
	PaidAt          string   `json:"paid_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
	AuditLog        []string `json:"audit_log"`
}

type ScanSessionResponse struct {
	ID               string  `json:"id"`
	DetectedBrand    string  `json:"detected_brand"`
	BottleConfidence float64 `json:"bottle_confidence"`
}

type DecisionResponse struct {
	SubmissionID    string  `json:"submission_id"`
	Status          string  `json:"status"`
	Score           float64 `json:"score"`
	Scored          bool    `json:"scored"`
	AutoApproved    bool    `json:"auto_approved"`
	ReviewReason    string  `json:"review_reason,omitempty"`
	PayoutAttempted bool    `json:"payout_attempted"`
	PayoutSuccess   bool    `json:"payout_success"`
	PayoutReference string  `json:"payout_reference,omitempty"`
	PayoutError     string  `json:"payout_error,omitempty"`
}

type PayoutResponse struct {
	SubmissionID    string `json:"submission_id"`
	PayoutReference string `json:"payout_reference"`
	BatchID         string `json:"batch_id"`
	Status          string `json:"status"`
}

package request_models

type CreateScanSessionRequest struct {
	DetectedBrand    string  `json:"detected_brand"`
	BottleConfidence float64 `json:"bottle_confidence" binding:"gte=0,lte=1"`
}

type CreateSubmissionRequest struct {
	SessionID    string `json:"session_id" binding:"required,uuid"`
	PayeeAddress string `json:"payee_address" binding:"required,email"`
	PayoutAmount string `json:"payout_amount" binding:"required"`
	Currency     string `json:"currency" binding:"omitempty,len=3"`
	ReceiptURL   string `json:"receipt_url" binding:"omitempty,url"`
}

// ValidationReport is what the upstream receipt validator hands the client.
// Every field is untrusted; absent fields score as the least favorable value.
type ValidationReport struct {
	HasKeepersHeart    bool     `json:"hasKeepersHeart"`
	HasReceiptKeywords bool     `json:"hasReceiptKeywords"`
	MatchedKeywords    []string `json:"matchedKeywords"`
	DetectedText       string   `json:"detectedText"`
	Warnings           []string `json:"warnings"`
	Errors             []string `json:"errors"`
}

type PhotoVerdict struct {
	IsLikelyRealPhoto bool    `json:"isLikelyRealPhoto"`
	Confidence        float64 `json:"confidence"`
}

type DecisionRequest struct {
	Validation ValidationReport `json:"validation"`
	Photo      PhotoVerdict     `json:"photo"`
}

type RejectSubmissionRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

type ApproveSubmissionRequest struct {
	Note string `json:"note" binding:"max=500"`
}

package utils

import "errors"

var (
	ErrNotFound            = errors.New("record not found")
	ErrAlreadyProcessed    = errors.New("submission already processed")
	ErrNotEligible         = errors.New("submission not eligible for payout")
	ErrPayoutCooldown      = errors.New("payee received a payout within the cooldown window")
	ErrUpstreamAuthFailure = errors.New("payment processor authentication failed")
	ErrUpstreamRejected    = errors.New("payment processor rejected the request")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidPage         = errors.New("invalid page parameter")
	ErrInvalidPageSize     = errors.New("invalid page size parameter")
)

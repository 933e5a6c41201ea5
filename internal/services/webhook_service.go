package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories"
	"rebate/pkg/metrics"
	"rebate/pkg/paypal"
	"rebate/pkg/utils"
)

type WebhookOutcome string

const (
	WebhookDroppedUnverified WebhookOutcome = "dropped_unverified"
	WebhookDroppedMalformed  WebhookOutcome = "dropped_malformed"
	WebhookDroppedUnknown    WebhookOutcome = "dropped_unknown"
	WebhookDuplicate         WebhookOutcome = "duplicate"
	WebhookRecorded          WebhookOutcome = "recorded"
	WebhookInvalidated       WebhookOutcome = "invalidated"
	WebhookErrored           WebhookOutcome = "errored"
)

type EventClass string

const (
	EventSucceeded EventClass = "succeeded"
	EventFailed    EventClass = "failed"
	EventHeld      EventClass = "held"
	EventReversed  EventClass = "reversed"
	EventUnknown   EventClass = "unknown"
)

const payoutItemEventPrefix = "PAYMENT.PAYOUTS-ITEM."

// Invalidates reports whether the class voids a recorded transfer.
func (c EventClass) Invalidates() bool {
	return c == EventFailed || c == EventReversed
}

// ClassifyEvent maps a PayPal event type, falling back to the item's
// transaction status when the type is not a payout item event we know.
func ClassifyEvent(eventType, transactionStatus string) EventClass {
	eventType = strings.ToUpper(strings.TrimSpace(eventType))
	if strings.HasPrefix(eventType, payoutItemEventPrefix) {
		switch strings.TrimPrefix(eventType, payoutItemEventPrefix) {
		case "SUCCEEDED":
			return EventSucceeded
		case "FAILED", "BLOCKED", "DENIED":
			return EventFailed
		case "HELD", "UNCLAIMED":
			return EventHeld
		case "CANCELED", "RETURNED", "REFUNDED":
			return EventReversed
		}
	}

	switch strings.ToUpper(strings.TrimSpace(transactionStatus)) {
	case "SUCCESS":
		return EventSucceeded
	case "FAILED", "BLOCKED", "DENIED":
		return EventFailed
	case "ONHOLD", "UNCLAIMED", "PENDING":
		return EventHeld
	case "CANCELED", "RETURNED", "REFUNDED", "REVERSED":
		return EventReversed
	}
	return EventUnknown
}

// WebhookVerifier checks a delivery's transmission signature with PayPal.
type WebhookVerifier interface {
	VerifyWebhookSignature(ctx context.Context, webhookID string, rawBody []byte, h paypal.TransmissionHeaders) (bool, error)
}

type WebhookOptions struct {
	WebhookID string
	// TestMode skips verification when no webhook id is configured. Ignored
	// in production.
	TestMode   bool
	Production bool
}

type WebhookService interface {
	HandleEvent(ctx context.Context, rawBody []byte, headers paypal.TransmissionHeaders) WebhookOutcome
}

type webhookService struct {
	submissions repositories.SubmissionRepository
	verifier    WebhookVerifier
	opts        WebhookOptions
	log         *zap.Logger
	now         func() time.Time
}

func NewWebhookService(
	submissions repositories.SubmissionRepository,
	verifier WebhookVerifier,
	opts WebhookOptions,
	log *zap.Logger,
	now func() time.Time,
) WebhookService {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &webhookService{
		submissions: submissions,
		verifier:    verifier,
		opts:        opts,
		log:         log.Named("webhook"),
		now:         now,
	}
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		PayoutItemID      string `json:"payout_item_id"`
		PayoutBatchID     string `json:"payout_batch_id"`
		TransactionStatus string `json:"transaction_status"`
		PayoutItem        struct {
			SenderItemID string `json:"sender_item_id"`
		} `json:"payout_item"`
	} `json:"resource"`
}

// HandleEvent never fails towards the caller; every outcome is logged and
// counted instead.
func (w *webhookService) HandleEvent(ctx context.Context, rawBody []byte, headers paypal.TransmissionHeaders) WebhookOutcome {
	class := EventUnknown
	outcome := w.handle(ctx, rawBody, headers, &class)
	metrics.WebhookEventsTotal.WithLabelValues(string(class), string(outcome)).Inc()
	return outcome
}

func (w *webhookService) handle(ctx context.Context, rawBody []byte, headers paypal.TransmissionHeaders, class *EventClass) WebhookOutcome {
	if err := w.verify(ctx, rawBody, headers); err != nil {
		w.log.Warn("webhook delivery dropped", zap.Error(err), zap.String("transmission_id", headers.TransmissionID))
		return WebhookDroppedUnverified
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		w.log.Warn("malformed webhook body", zap.Error(err))
		return WebhookDroppedMalformed
	}
	itemID := strings.TrimSpace(event.Resource.PayoutItemID)
	batchID := strings.TrimSpace(event.Resource.PayoutBatchID)
	if event.EventType == "" || (itemID == "" && batchID == "") {
		w.log.Warn("webhook without event type or payout ids", zap.String("event_id", event.ID))
		return WebhookDroppedMalformed
	}
	*class = ClassifyEvent(event.EventType, event.Resource.TransactionStatus)

	log := w.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("payout_item_id", itemID),
		zap.String("class", string(*class)),
	)

	sub, err := w.lookup(ctx, itemID, batchID)
	if err != nil {
		log.Error("webhook lookup failed", zap.Error(err))
		return WebhookErrored
	}
	if sub == nil {
		log.Info("webhook for unknown payout reference dropped",
			zap.String("payout_batch_id", batchID),
			zap.String("sender_item_id", event.Resource.PayoutItem.SenderItemID))
		return WebhookDroppedUnknown
	}
	log = log.With(zap.String("submission_id", sub.ID.String()))

	if event.ID != "" && seenEvent(sub, event.ID) {
		log.Info("duplicate webhook delivery ignored")
		return WebhookDuplicate
	}

	note := auditLine(w.now(), "webhook %s item=%s status=%s event=%s",
		event.EventType, itemID, event.Resource.TransactionStatus, event.ID)

	if class.Invalidates() && sub.Status == db_models.SubmissionPaid {
		ok, err := w.submissions.InvalidatePayout(ctx, sub.ID, *sub.PayoutReference, note)
		if err != nil {
			log.Error("could not invalidate payout", zap.Error(err))
			return WebhookErrored
		}
		if ok {
			log.Warn("payout invalidated by processor, submission back to approved")
			return WebhookInvalidated
		}
		// Lost a race with another delivery or reviewer; keep the line anyway.
	}

	if err := w.submissions.AppendAudit(ctx, sub.ID, note); err != nil {
		log.Error("could not record webhook", zap.Error(err))
		return WebhookErrored
	}
	log.Info("webhook recorded")
	return WebhookRecorded
}

// verify fails closed: any error wraps utils.ErrSignatureInvalid.
func (w *webhookService) verify(ctx context.Context, rawBody []byte, headers paypal.TransmissionHeaders) error {
	if w.opts.WebhookID == "" {
		if w.opts.TestMode && !w.opts.Production {
			w.log.Warn("webhook verification skipped in test mode")
			return nil
		}
		return fmt.Errorf("%w: webhook id not configured", utils.ErrSignatureInvalid)
	}
	if !headers.Complete() {
		return fmt.Errorf("%w: missing transmission headers", utils.ErrSignatureInvalid)
	}
	if w.verifier == nil {
		return fmt.Errorf("%w: no verifier configured", utils.ErrSignatureInvalid)
	}
	ok, err := w.verifier.VerifyWebhookSignature(ctx, w.opts.WebhookID, rawBody, headers)
	if err != nil {
		return fmt.Errorf("%w: verification call failed: %v", utils.ErrSignatureInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: rejected by processor", utils.ErrSignatureInvalid)
	}
	return nil
}

// lookup tries the item id first, then the batch id stored when the
// processor had not yet exposed an item.
func (w *webhookService) lookup(ctx context.Context, itemID, batchID string) (*db_models.Submission, error) {
	if itemID != "" {
		sub, err := w.submissions.FindByPayoutReference(ctx, itemID)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if batchID != "" {
		return w.submissions.FindByPayoutReference(ctx, batchID)
	}
	return nil, nil
}

func seenEvent(sub *db_models.Submission, eventID string) bool {
	marker := " event=" + eventID
	for _, line := range sub.AuditLog {
		if strings.HasSuffix(line, marker) {
			return true
		}
	}
	return false
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories/memory"
	"rebate/pkg/paypal"
	"rebate/pkg/utils"
)

type fakeVerifier struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls int
}

func (v *fakeVerifier) VerifyWebhookSignature(ctx context.Context, webhookID string, rawBody []byte, h paypal.TransmissionHeaders) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.ok, v.err
}

func (v *fakeVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

var signedHeaders = paypal.TransmissionHeaders{
	TransmissionID:   "8a1d-transmission",
	TransmissionTime: "2026-05-04T15:30:00Z",
	TransmissionSig:  "c2lnbmF0dXJl",
	CertURL:          "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-1",
	AuthAlgo:         "SHA256withRSA",
}

func payoutEvent(eventID, eventType, itemID, batchID, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"event_type":%q,"resource":{"payout_item_id":%q,"payout_batch_id":%q,"transaction_status":%q}}`,
		eventID, eventType, itemID, batchID, status))
}

func newWebhookFixture(opts WebhookOptions, verifier *fakeVerifier) (*memory.SubmissionRepository, WebhookService) {
	repo := memory.NewSubmissionRepository()
	if opts.WebhookID == "" && !opts.TestMode {
		opts.WebhookID = "WH-123"
	}
	return repo, NewWebhookService(repo, verifier, opts, nil, fixedNow)
}

func TestHandleEvent_UnverifiableChangesNothing(t *testing.T) {
	tests := []struct {
		name     string
		verifier *fakeVerifier
		headers  paypal.TransmissionHeaders
	}{
		{"signature rejected", &fakeVerifier{ok: false}, signedHeaders},
		{"verification call failed", &fakeVerifier{err: errors.New("timeout")}, signedHeaders},
		{"headers missing", &fakeVerifier{ok: true}, paypal.TransmissionHeaders{TransmissionID: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, svc := newWebhookFixture(WebhookOptions{}, tt.verifier)
			sub := seedPaid(t, repo, "ITEM-1", testNow)
			before := mustFind(t, repo, sub.ID)

			out := svc.HandleEvent(context.Background(),
				payoutEvent("WH-EVT-1", "PAYMENT.PAYOUTS-ITEM.FAILED", "ITEM-1", "", "FAILED"), tt.headers)
			if out != WebhookDroppedUnverified {
				t.Fatalf("expected %s, got %s", WebhookDroppedUnverified, out)
			}

			after := mustFind(t, repo, sub.ID)
			if after.Status != before.Status || len(after.AuditLog) != len(before.AuditLog) || !after.HasPayoutReference() {
				t.Fatalf("unverified event mutated the submission: %+v", after)
			}
		})
	}
}

func TestHandleEvent_MissingHeadersSkipsVerifierCall(t *testing.T) {
	verifier := &fakeVerifier{ok: true}
	_, svc := newWebhookFixture(WebhookOptions{}, verifier)

	svc.HandleEvent(context.Background(), payoutEvent("E", "PAYMENT.PAYOUTS-ITEM.SUCCEEDED", "ITEM-1", "", "SUCCESS"), paypal.TransmissionHeaders{})
	if verifier.Calls() != 0 {
		t.Fatalf("verifier called without transmission headers")
	}
}

func TestHandleEvent_FailedInvalidatesPayout(t *testing.T) {
	repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
	sub := seedPaid(t, repo, "ITEM-1", testNow)

	out := svc.HandleEvent(context.Background(),
		payoutEvent("WH-EVT-2", "PAYMENT.PAYOUTS-ITEM.FAILED", "ITEM-1", "BATCH-1", "FAILED"), signedHeaders)
	if out != WebhookInvalidated {
		t.Fatalf("expected %s, got %s", WebhookInvalidated, out)
	}

	stored := mustFind(t, repo, sub.ID)
	if stored.Status != db_models.SubmissionApproved {
		t.Fatalf("expected approved, got %s", stored.Status)
	}
	if stored.HasPayoutReference() || stored.PaidAt != nil {
		t.Fatalf("reference and paid_at must be cleared: %v %v", stored.PayoutReference, stored.PaidAt)
	}
	if !auditContains(stored, "webhook PAYMENT.PAYOUTS-ITEM.FAILED item=ITEM-1 status=FAILED") {
		t.Fatalf("audit log missing webhook line: %v", stored.AuditLog)
	}
	if !strings.HasPrefix(stored.AuditLog[len(stored.AuditLog)-1], "2026-05-04T15:30:00Z ") {
		t.Fatalf("audit line not timestamped: %q", stored.AuditLog[len(stored.AuditLog)-1])
	}
	if got, want := BatchIDFor(stored), fmt.Sprintf("%s-1", sub.ID); got != want {
		t.Fatalf("retry after invalidation must use a new batch id, got %q want %q", got, want)
	}

	// Redelivery finds no live reference any more.
	out = svc.HandleEvent(context.Background(),
		payoutEvent("WH-EVT-2", "PAYMENT.PAYOUTS-ITEM.FAILED", "ITEM-1", "", "FAILED"), signedHeaders)
	if out != WebhookDroppedUnknown {
		t.Fatalf("expected redelivery to be dropped, got %s", out)
	}
}

func TestHandleEvent_ReversalInvalidatesPayout(t *testing.T) {
	for _, eventType := range []string{"PAYMENT.PAYOUTS-ITEM.RETURNED", "PAYMENT.PAYOUTS-ITEM.REFUNDED", "PAYMENT.PAYOUTS-ITEM.CANCELED"} {
		t.Run(eventType, func(t *testing.T) {
			repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
			sub := seedPaid(t, repo, "ITEM-9", testNow)

			if out := svc.HandleEvent(context.Background(), payoutEvent("E-"+eventType, eventType, "ITEM-9", "", ""), signedHeaders); out != WebhookInvalidated {
				t.Fatalf("expected %s, got %s", WebhookInvalidated, out)
			}
			if stored := mustFind(t, repo, sub.ID); stored.Status != db_models.SubmissionApproved {
				t.Fatalf("expected approved, got %s", stored.Status)
			}
		})
	}
}

func TestHandleEvent_DuplicateSucceededIsNoop(t *testing.T) {
	repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
	sub := seedPaid(t, repo, "ITEM-1", testNow)
	body := payoutEvent("WH-EVT-3", "PAYMENT.PAYOUTS-ITEM.SUCCEEDED", "ITEM-1", "", "SUCCESS")

	if out := svc.HandleEvent(context.Background(), body, signedHeaders); out != WebhookRecorded {
		t.Fatalf("first delivery: expected %s, got %s", WebhookRecorded, out)
	}
	first := mustFind(t, repo, sub.ID)

	if out := svc.HandleEvent(context.Background(), body, signedHeaders); out != WebhookDuplicate {
		t.Fatalf("second delivery: expected %s, got %s", WebhookDuplicate, out)
	}
	second := mustFind(t, repo, sub.ID)

	if second.Status != db_models.SubmissionPaid || *second.PayoutReference != "ITEM-1" {
		t.Fatalf("duplicate changed status: %s", second.Status)
	}
	if len(second.AuditLog) != len(first.AuditLog) {
		t.Fatalf("duplicate appended to the audit log")
	}
}

func TestHandleEvent_HeldAndUnknownOnlyAudit(t *testing.T) {
	for _, eventType := range []string{"PAYMENT.PAYOUTS-ITEM.UNCLAIMED", "PAYMENT.PAYOUTS-ITEM.HELD", "PAYMENT.PAYOUTS-ITEM.SOMETHING_NEW"} {
		t.Run(eventType, func(t *testing.T) {
			repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
			sub := seedPaid(t, repo, "ITEM-1", testNow)

			if out := svc.HandleEvent(context.Background(), payoutEvent("E", eventType, "ITEM-1", "", ""), signedHeaders); out != WebhookRecorded {
				t.Fatalf("expected %s, got %s", WebhookRecorded, out)
			}
			stored := mustFind(t, repo, sub.ID)
			if stored.Status != db_models.SubmissionPaid || !stored.HasPayoutReference() {
				t.Fatalf("audit-only event changed state: %s", stored.Status)
			}
			if !auditContains(stored, "webhook "+eventType) {
				t.Fatalf("audit log missing line: %v", stored.AuditLog)
			}
		})
	}
}

func TestHandleEvent_UnknownReferenceDropped(t *testing.T) {
	repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
	sub := seedPaid(t, repo, "ITEM-1", testNow)

	out := svc.HandleEvent(context.Background(),
		payoutEvent("E", "PAYMENT.PAYOUTS-ITEM.FAILED", "ITEM-OTHER", "", "FAILED"), signedHeaders)
	if out != WebhookDroppedUnknown {
		t.Fatalf("expected %s, got %s", WebhookDroppedUnknown, out)
	}
	if stored := mustFind(t, repo, sub.ID); stored.Status != db_models.SubmissionPaid {
		t.Fatalf("unrelated event changed state")
	}
}

func TestHandleEvent_UnknownReferenceLogsSenderItem(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	repo := memory.NewSubmissionRepository()
	svc := NewWebhookService(repo, &fakeVerifier{ok: true}, WebhookOptions{WebhookID: "WH-123"}, zap.New(core), fixedNow)

	body := []byte(`{"id":"E-9","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED","resource":{` +
		`"payout_item_id":"ITEM-LOST","payout_batch_id":"BATCH-LOST","transaction_status":"SUCCESS",` +
		`"payout_item":{"sender_item_id":"sub-42"}}}`)
	if out := svc.HandleEvent(context.Background(), body, signedHeaders); out != WebhookDroppedUnknown {
		t.Fatalf("expected %s, got %s", WebhookDroppedUnknown, out)
	}

	entries := logs.FilterMessage("webhook for unknown payout reference dropped").All()
	if len(entries) != 1 {
		t.Fatalf("expected one drop log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["sender_item_id"] != "sub-42" || fields["payout_batch_id"] != "BATCH-LOST" {
		t.Fatalf("drop log missing processor references: %v", fields)
	}
}

func TestVerify_FailuresWrapSignatureInvalid(t *testing.T) {
	tests := []struct {
		name     string
		opts     WebhookOptions
		verifier WebhookVerifier
		headers  paypal.TransmissionHeaders
		ok       bool
	}{
		{"verified", WebhookOptions{WebhookID: "WH-123"}, &fakeVerifier{ok: true}, signedHeaders, true},
		{"test mode", WebhookOptions{TestMode: true}, nil, paypal.TransmissionHeaders{}, true},
		{"no webhook id", WebhookOptions{}, &fakeVerifier{ok: true}, signedHeaders, false},
		{"headers missing", WebhookOptions{WebhookID: "WH-123"}, &fakeVerifier{ok: true}, paypal.TransmissionHeaders{}, false},
		{"no verifier", WebhookOptions{WebhookID: "WH-123"}, nil, signedHeaders, false},
		{"call failed", WebhookOptions{WebhookID: "WH-123"}, &fakeVerifier{err: errors.New("timeout")}, signedHeaders, false},
		{"rejected", WebhookOptions{WebhookID: "WH-123"}, &fakeVerifier{ok: false}, signedHeaders, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewWebhookService(memory.NewSubmissionRepository(), tt.verifier, tt.opts, nil, fixedNow).(*webhookService)
			err := svc.verify(context.Background(), []byte(`{}`), tt.headers)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, utils.ErrSignatureInvalid) {
				t.Fatalf("expected ErrSignatureInvalid, got %v", err)
			}
		})
	}
}

func TestHandleEvent_FallsBackToBatchID(t *testing.T) {
	repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
	sub := seedPaid(t, repo, "BATCH-7", testNow)

	out := svc.HandleEvent(context.Background(),
		payoutEvent("E", "PAYMENT.PAYOUTS-ITEM.BLOCKED", "ITEM-7", "BATCH-7", "BLOCKED"), signedHeaders)
	if out != WebhookInvalidated {
		t.Fatalf("expected %s, got %s", WebhookInvalidated, out)
	}
	if stored := mustFind(t, repo, sub.ID); stored.HasPayoutReference() {
		t.Fatalf("batch-referenced payout not invalidated")
	}
}

func TestHandleEvent_Malformed(t *testing.T) {
	_, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
	for _, body := range [][]byte{
		[]byte(`{"id":`),
		[]byte(`{"id":"E","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED","resource":{}}`),
		[]byte(`{"id":"E","resource":{"payout_item_id":"ITEM-1"}}`),
	} {
		if out := svc.HandleEvent(context.Background(), body, signedHeaders); out != WebhookDroppedMalformed {
			t.Fatalf("%s: expected %s, got %s", body, WebhookDroppedMalformed, out)
		}
	}
}

func TestHandleEvent_UnsetWebhookIDFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		opts WebhookOptions
		want WebhookOutcome
	}{
		{"no test mode", WebhookOptions{WebhookID: ""}, WebhookDroppedUnverified},
		{"test mode in development", WebhookOptions{TestMode: true}, WebhookRecorded},
		{"test mode in production", WebhookOptions{TestMode: true, Production: true}, WebhookDroppedUnverified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewSubmissionRepository()
			verifier := &fakeVerifier{ok: true}
			svc := NewWebhookService(repo, verifier, tt.opts, nil, fixedNow)
			seedPaid(t, repo, "ITEM-1", testNow)

			out := svc.HandleEvent(context.Background(),
				payoutEvent("E", "PAYMENT.PAYOUTS-ITEM.SUCCEEDED", "ITEM-1", "", "SUCCESS"), paypal.TransmissionHeaders{})
			if out != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, out)
			}
			if verifier.Calls() != 0 {
				t.Fatalf("verifier must not be called without a webhook id")
			}
		})
	}
}

type lookupFailsRepo struct {
	*memory.SubmissionRepository
}

func (lookupFailsRepo) FindByPayoutReference(ctx context.Context, reference string) (*db_models.Submission, error) {
	return nil, errors.New("too many connections")
}

func TestHandleEvent_StoreErrorIsAbsorbed(t *testing.T) {
	svc := NewWebhookService(lookupFailsRepo{memory.NewSubmissionRepository()}, &fakeVerifier{ok: true},
		WebhookOptions{WebhookID: "WH-123"}, nil, fixedNow)

	out := svc.HandleEvent(context.Background(),
		payoutEvent("E", "PAYMENT.PAYOUTS-ITEM.FAILED", "ITEM-1", "", "FAILED"), signedHeaders)
	if out != WebhookErrored {
		t.Fatalf("expected %s, got %s", WebhookErrored, out)
	}
}

func TestHandleEvent_ApprovedSubmissionIsNotTouchedByFailure(t *testing.T) {
	// A failed event for a submission that is no longer paid under that
	// reference must not be able to clear anything.
	repo, svc := newWebhookFixture(WebhookOptions{}, &fakeVerifier{ok: true})
	sub := seedSubmission(t, repo, newTestSubmission(uuid.New(), db_models.SubmissionApproved))

	out := svc.HandleEvent(context.Background(),
		payoutEvent("E", "PAYMENT.PAYOUTS-ITEM.FAILED", sub.ID.String(), "", "FAILED"), signedHeaders)
	if out != WebhookDroppedUnknown {
		t.Fatalf("expected %s, got %s", WebhookDroppedUnknown, out)
	}
}

func TestClassifyEvent(t *testing.T) {
	tests := []struct {
		eventType string
		status    string
		want      EventClass
	}{
		{"PAYMENT.PAYOUTS-ITEM.SUCCEEDED", "", EventSucceeded},
		{"payment.payouts-item.succeeded", "", EventSucceeded},
		{"PAYMENT.PAYOUTS-ITEM.FAILED", "", EventFailed},
		{"PAYMENT.PAYOUTS-ITEM.BLOCKED", "", EventFailed},
		{"PAYMENT.PAYOUTS-ITEM.DENIED", "", EventFailed},
		{"PAYMENT.PAYOUTS-ITEM.HELD", "", EventHeld},
		{"PAYMENT.PAYOUTS-ITEM.UNCLAIMED", "", EventHeld},
		{"PAYMENT.PAYOUTS-ITEM.CANCELED", "", EventReversed},
		{"PAYMENT.PAYOUTS-ITEM.RETURNED", "", EventReversed},
		{"PAYMENT.PAYOUTS-ITEM.REFUNDED", "", EventReversed},
		{"PAYMENT.PAYOUTS-ITEM.NEW_THING", "SUCCESS", EventSucceeded},
		{"PAYMENT.PAYOUTSBATCH.SUCCESS", "ONHOLD", EventHeld},
		{"PAYMENT.PAYOUTSBATCH.SUCCESS", "REVERSED", EventReversed},
		{"PAYMENT.PAYOUTS-ITEM.NEW_THING", "", EventUnknown},
		{"", "", EventUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyEvent(tt.eventType, tt.status); got != tt.want {
			t.Errorf("ClassifyEvent(%q, %q) = %s, want %s", tt.eventType, tt.status, got, tt.want)
		}
	}
}

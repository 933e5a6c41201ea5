package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"rebate/internal/models/db_models"
	"rebate/internal/repositories/memory"
	"rebate/pkg/paypal"
)

var testNow = time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type fakeProcessor struct {
	mu    sync.Mutex
	calls []paypal.PayoutRequest
	err   error
	// noItem simulates a batch that has not been itemized yet.
	noItem bool
}

func (f *fakeProcessor) SendPayout(ctx context.Context, req paypal.PayoutRequest) (*paypal.PayoutReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.calls)
	receipt := &paypal.PayoutReceipt{
		BatchID:     fmt.Sprintf("BATCH-%d", n),
		BatchStatus: "PENDING",
	}
	if !f.noItem {
		receipt.ItemID = fmt.Sprintf("ITEM-%d", n)
		receipt.ItemStatus = "UNCLAIMED"
	}
	return receipt, nil
}

func (f *fakeProcessor) Calls() []paypal.PayoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]paypal.PayoutRequest(nil), f.calls...)
}

func (f *fakeProcessor) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestSubmission(sessionID uuid.UUID, status db_models.SubmissionStatus) *db_models.Submission {
	return &db_models.Submission{
		SessionID:      sessionID,
		Status:         status,
		PayoutAmount:   decimal.RequireFromString("5.00"),
		PayoutCurrency: "USD",
		PayeeAddress:   "buyer@example.com",
		AuditLog:       []string{},
	}
}

func seedSubmission(t *testing.T, repo *memory.SubmissionRepository, sub *db_models.Submission) *db_models.Submission {
	t.Helper()
	if err := repo.Create(context.Background(), sub); err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return sub
}

func seedPaid(t *testing.T, repo *memory.SubmissionRepository, reference string, paidAt time.Time) *db_models.Submission {
	t.Helper()
	sub := newTestSubmission(uuid.New(), db_models.SubmissionPaid)
	ref := reference
	ts := paidAt.Unix()
	sub.PayoutReference = &ref
	sub.PaidAt = &ts
	return seedSubmission(t, repo, sub)
}

func mustFind(t *testing.T, repo *memory.SubmissionRepository, id uuid.UUID) *db_models.Submission {
	t.Helper()
	sub, err := repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	if sub == nil {
		t.Fatalf("submission %s missing", id)
	}
	return sub
}

func auditContains(sub *db_models.Submission, fragment string) bool {
	for _, line := range sub.AuditLog {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

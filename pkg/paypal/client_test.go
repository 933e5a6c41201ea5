package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type fakePayPal struct {
	tokenStatus  int
	payoutStatus int
	payoutBody   string
	batchBody    string
	verifyStatus string

	payouts     int32
	readBacks   int32
	lastPayout  createPayoutBody
	lastVerify  verifyBody
	lastAuthHdr string
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "client" || pass != "secret" {
			t.Errorf("token request without client credentials")
		}
		if f.tokenStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.tokenStatus)
			_, _ = io.WriteString(w, `{"error":"invalid_client","error_description":"Client Authentication failed"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/payments/payouts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.payouts, 1)
		f.lastAuthHdr = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&f.lastPayout); err != nil {
			t.Errorf("decode payout body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if f.payoutStatus != 0 {
			w.WriteHeader(f.payoutStatus)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = io.WriteString(w, f.payoutBody)
	})
	mux.HandleFunc("/v1/payments/payouts/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.readBacks, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.batchBody)
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.lastVerify); err != nil {
			t.Errorf("decode verify body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"verification_status":"`+f.verifyStatus+`"}`)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePayPal) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL, EmailSubject: "Your rebate"}, srv.Client())
}

var testPayout = PayoutRequest{
	SenderBatchID: "sub-1-0",
	SenderItemID:  "sub-1",
	Receiver:      "buyer@example.com",
	Amount:        Amount{Value: "5.00", Currency: "USD"},
	Note:          "Rebate",
}

func TestSendPayout_ItemInCreateResponse(t *testing.T) {
	f := &fakePayPal{
		payoutBody: `{"batch_header":{"payout_batch_id":"B1","batch_status":"PENDING"},
			"items":[{"payout_item_id":"I1","transaction_status":"UNCLAIMED","payout_item":{"sender_item_id":"sub-1"}}]}`,
	}
	c := newTestClient(t, f)

	receipt, err := c.SendPayout(context.Background(), testPayout)
	if err != nil {
		t.Fatalf("send payout: %v", err)
	}
	if receipt.BatchID != "B1" || receipt.ItemID != "I1" || receipt.ItemStatus != "UNCLAIMED" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if atomic.LoadInt32(&f.readBacks) != 0 {
		t.Fatalf("read-back not needed when the item is present")
	}
	if f.lastAuthHdr != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", f.lastAuthHdr)
	}
	if f.lastPayout.SenderBatchHeader.SenderBatchID != "sub-1-0" || f.lastPayout.SenderBatchHeader.EmailSubject != "Your rebate" {
		t.Fatalf("unexpected batch header %+v", f.lastPayout.SenderBatchHeader)
	}
	if len(f.lastPayout.Items) != 1 || f.lastPayout.Items[0].Receiver != "buyer@example.com" || f.lastPayout.Items[0].Amount.Value != "5.00" {
		t.Fatalf("unexpected items %+v", f.lastPayout.Items)
	}
}

func TestSendPayout_ReadsBatchBack(t *testing.T) {
	f := &fakePayPal{
		payoutBody: `{"batch_header":{"payout_batch_id":"B2","batch_status":"PENDING"}}`,
		batchBody: `{"batch_header":{"payout_batch_id":"B2","batch_status":"PROCESSING"},
			"items":[{"payout_item_id":"I2","transaction_status":"PENDING","payout_item":{"sender_item_id":"sub-1"}}]}`,
	}
	c := newTestClient(t, f)

	receipt, err := c.SendPayout(context.Background(), testPayout)
	if err != nil {
		t.Fatalf("send payout: %v", err)
	}
	if receipt.ItemID != "I2" || receipt.BatchStatus != "PROCESSING" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if n := atomic.LoadInt32(&f.readBacks); n != 1 {
		t.Fatalf("expected one read-back, got %d", n)
	}
}

func TestSendPayout_ReadBackWithoutItemKeepsBatch(t *testing.T) {
	f := &fakePayPal{
		payoutBody: `{"batch_header":{"payout_batch_id":"B3","batch_status":"PENDING"}}`,
		batchBody:  `{"batch_header":{"payout_batch_id":"B3","batch_status":"PENDING"},"items":[]}`,
	}
	c := newTestClient(t, f)

	receipt, err := c.SendPayout(context.Background(), testPayout)
	if err != nil {
		t.Fatalf("send payout: %v", err)
	}
	if receipt.BatchID != "B3" || receipt.ItemID != "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestSendPayout_APIError(t *testing.T) {
	f := &fakePayPal{
		payoutStatus: http.StatusUnprocessableEntity,
		payoutBody:   `{"name":"INSUFFICIENT_FUNDS","message":"Sender does not have sufficient funds.","debug_id":"abc123"}`,
	}
	c := newTestClient(t, f)

	_, err := c.SendPayout(context.Background(), testPayout)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 422 || apiErr.Name != "INSUFFICIENT_FUNDS" || apiErr.DebugID != "abc123" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("APIError must unwrap to ErrRejected")
	}
}

func TestSendPayout_MissingBatchID(t *testing.T) {
	c := newTestClient(t, &fakePayPal{payoutBody: `{"batch_header":{}}`})
	if _, err := c.SendPayout(context.Background(), testPayout); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSendPayout_TokenFailure(t *testing.T) {
	f := &fakePayPal{tokenStatus: http.StatusUnauthorized}
	c := newTestClient(t, f)

	_, err := c.SendPayout(context.Background(), testPayout)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if atomic.LoadInt32(&f.payouts) != 0 {
		t.Fatalf("payout sent without a token")
	}
}

var completeHeaders = TransmissionHeaders{
	TransmissionID:   "t-1",
	TransmissionTime: "2026-05-04T15:30:00Z",
	TransmissionSig:  "sig",
	CertURL:          "https://api.sandbox.paypal.com/cert",
	AuthAlgo:         "SHA256withRSA",
}

func TestVerifyWebhookSignature(t *testing.T) {
	for _, tt := range []struct {
		status string
		want   bool
	}{{"SUCCESS", true}, {"FAILURE", false}} {
		t.Run(tt.status, func(t *testing.T) {
			f := &fakePayPal{verifyStatus: tt.status}
			c := newTestClient(t, f)

			raw := []byte(`{"id":"WH-1","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED"}`)
			ok, err := c.VerifyWebhookSignature(context.Background(), "WH-ID", raw, completeHeaders)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if ok != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, ok)
			}
			if f.lastVerify.WebhookID != "WH-ID" || f.lastVerify.TransmissionSig != "sig" {
				t.Fatalf("unexpected verify body %+v", f.lastVerify)
			}
			if string(f.lastVerify.WebhookEvent) != string(raw) {
				t.Fatalf("webhook event must be forwarded verbatim, got %s", f.lastVerify.WebhookEvent)
			}
		})
	}
}

func TestVerifyWebhookSignature_InvalidBody(t *testing.T) {
	c := newTestClient(t, &fakePayPal{verifyStatus: "SUCCESS"})
	ok, err := c.VerifyWebhookSignature(context.Background(), "WH-ID", []byte(`{not json`), completeHeaders)
	if err == nil || ok {
		t.Fatalf("expected failure for invalid body, got ok=%v err=%v", ok, err)
	}
}

func TestHeadersFromRequest(t *testing.T) {
	h := http.Header{}
	h.Set("PAYPAL-TRANSMISSION-ID", "t-1")
	h.Set("PAYPAL-TRANSMISSION-TIME", "now")
	h.Set("PAYPAL-TRANSMISSION-SIG", "sig")
	h.Set("PAYPAL-CERT-URL", "https://cert")
	h.Set("PAYPAL-AUTH-ALGO", "SHA256withRSA")

	got := HeadersFromRequest(h)
	if !got.Complete() {
		t.Fatalf("expected complete headers, got %+v", got)
	}
	h.Del("PAYPAL-AUTH-ALGO")
	if HeadersFromRequest(h).Complete() {
		t.Fatalf("missing auth algo must be incomplete")
	}
}

func TestBaseURLFor(t *testing.T) {
	if BaseURLFor("live") != LiveBaseURL || BaseURLFor("sandbox") != SandboxBaseURL || BaseURLFor("") != SandboxBaseURL {
		t.Fatalf("unexpected base url mapping")
	}
}

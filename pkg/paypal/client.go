// Package paypal is a thin client for the PayPal Payouts and webhook
// verification endpoints. It performs no retries; callers own that policy.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

var (
	// ErrAuth means the client-credentials token could not be obtained.
	ErrAuth = errors.New("paypal: access token request failed")
	// ErrRejected means PayPal answered with a non-success status.
	ErrRejected = errors.New("paypal: request rejected")
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	EmailSubject string
	Timeout      time.Duration
}

// BaseURLFor maps the environment selector to an API host.
func BaseURLFor(environment string) string {
	if environment == "live" {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	oauth      clientcredentials.Config
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// Amount is a decimal money value as PayPal expects it, e.g. "10.00".
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type PayoutRequest struct {
	SenderBatchID string
	SenderItemID  string
	Receiver      string
	Amount        Amount
	Note          string
}

// PayoutReceipt identifies what PayPal accepted. ItemID may be empty if the
// batch has not been itemized yet; BatchID is then the only handle.
type PayoutReceipt struct {
	BatchID     string
	BatchStatus string
	ItemID      string
	ItemStatus  string
}

type senderBatchHeader struct {
	SenderBatchID string `json:"sender_batch_id"`
	EmailSubject  string `json:"email_subject,omitempty"`
	RecipientType string `json:"recipient_type"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Amount        Amount `json:"amount"`
	Receiver      string `json:"receiver"`
	SenderItemID  string `json:"sender_item_id"`
	Note          string `json:"note,omitempty"`
}

type createPayoutBody struct {
	SenderBatchHeader senderBatchHeader `json:"sender_batch_header"`
	Items             []payoutItem      `json:"items"`
}

type batchHeader struct {
	PayoutBatchID string `json:"payout_batch_id"`
	BatchStatus   string `json:"batch_status"`
}

type batchItem struct {
	PayoutItemID      string `json:"payout_item_id"`
	TransactionStatus string `json:"transaction_status"`
	PayoutItem        struct {
		SenderItemID string `json:"sender_item_id"`
	} `json:"payout_item"`
}

type batchResponse struct {
	BatchHeader batchHeader `json:"batch_header"`
	Items       []batchItem `json:"items"`
}

// APIError carries PayPal's error document.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *APIError) Error() string {
	if e.Name == "" && e.Message == "" {
		return fmt.Sprintf("paypal: http %d", e.StatusCode)
	}
	return fmt.Sprintf("paypal: http %d %s: %s (debug_id=%s)", e.StatusCode, e.Name, e.Message, e.DebugID)
}

func (e *APIError) Unwrap() error { return ErrRejected }

// AccessToken fetches a fresh client-credentials token.
func (c *Client) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return tok, nil
}

// SendPayout obtains a token and submits a single-item payout batch, then
// reads the batch back to learn the item id.
func (c *Client) SendPayout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := createPayoutBody{
		SenderBatchHeader: senderBatchHeader{
			SenderBatchID: req.SenderBatchID,
			EmailSubject:  c.cfg.EmailSubject,
			RecipientType: "EMAIL",
		},
		Items: []payoutItem{{
			RecipientType: "EMAIL",
			Amount:        req.Amount,
			Receiver:      req.Receiver,
			SenderItemID:  req.SenderItemID,
			Note:          req.Note,
		}},
	}

	var created batchResponse
	if err := c.do(ctx, tok, http.MethodPost, "/v1/payments/payouts", body, &created); err != nil {
		return nil, err
	}
	if created.BatchHeader.PayoutBatchID == "" {
		return nil, fmt.Errorf("%w: payout response missing batch id", ErrRejected)
	}

	receipt := &PayoutReceipt{
		BatchID:     created.BatchHeader.PayoutBatchID,
		BatchStatus: created.BatchHeader.BatchStatus,
	}
	if item, ok := findItem(created.Items, req.SenderItemID); ok {
		receipt.ItemID = item.PayoutItemID
		receipt.ItemStatus = item.TransactionStatus
		return receipt, nil
	}

	// The money is already committed at this point; a failed read-back must
	// not turn into an error, the batch id is still a usable reference.
	var details batchResponse
	if err := c.do(ctx, tok, http.MethodGet, "/v1/payments/payouts/"+receipt.BatchID, nil, &details); err == nil {
		if details.BatchHeader.BatchStatus != "" {
			receipt.BatchStatus = details.BatchHeader.BatchStatus
		}
		if item, ok := findItem(details.Items, req.SenderItemID); ok {
			receipt.ItemID = item.PayoutItemID
			receipt.ItemStatus = item.TransactionStatus
		}
	}
	return receipt, nil
}

func findItem(items []batchItem, senderItemID string) (batchItem, bool) {
	for _, item := range items {
		if item.PayoutItem.SenderItemID == senderItemID && item.PayoutItemID != "" {
			return item, true
		}
	}
	if len(items) == 1 && items[0].PayoutItemID != "" {
		return items[0], true
	}
	return batchItem{}, false
}

// TransmissionHeaders are the PAYPAL-* headers attached to a webhook delivery.
type TransmissionHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// HeadersFromRequest extracts the transmission headers from a delivery.
func HeadersFromRequest(h http.Header) TransmissionHeaders {
	return TransmissionHeaders{
		TransmissionID:   h.Get("Paypal-Transmission-Id"),
		TransmissionTime: h.Get("Paypal-Transmission-Time"),
		TransmissionSig:  h.Get("Paypal-Transmission-Sig"),
		CertURL:          h.Get("Paypal-Cert-Url"),
		AuthAlgo:         h.Get("Paypal-Auth-Algo"),
	}
}

func (h TransmissionHeaders) Complete() bool {
	return h.TransmissionID != "" && h.TransmissionTime != "" && h.TransmissionSig != "" &&
		h.CertURL != "" && h.AuthAlgo != ""
}

type verifyBody struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhookSignature asks PayPal whether the delivery is authentic.
// rawBody must be the exact bytes received.
func (c *Client) VerifyWebhookSignature(ctx context.Context, webhookID string, rawBody []byte, h TransmissionHeaders) (bool, error) {
	if !json.Valid(rawBody) {
		return false, fmt.Errorf("%w: webhook body is not valid JSON", ErrRejected)
	}
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	body := verifyBody{
		AuthAlgo:         h.AuthAlgo,
		CertURL:          h.CertURL,
		TransmissionID:   h.TransmissionID,
		TransmissionSig:  h.TransmissionSig,
		TransmissionTime: h.TransmissionTime,
		WebhookID:        webhookID,
		WebhookEvent:     json.RawMessage(rawBody),
	}

	var resp verifyResponse
	if err := c.do(ctx, tok, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &resp); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

func (c *Client) do(ctx context.Context, tok *oauth2.Token, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paypal: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrRejected, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrRejected, err)
		}
	}
	return nil
}

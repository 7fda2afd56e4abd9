package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
)

const (
	SignatureHeader = "X-Signature"
	EventHeader     = "X-Event-Type"
	DeliveryHeader  = "X-Delivery-ID"
	eventKeyIssued  = "evidence.key_issued"
)

type webhookPayload struct {
	Event          string `json:"event"`
	RecipientID    string `json:"recipient_id"`
	RecipientEmail string `json:"recipient_email"`
	DebtID         string `json:"debt_id"`
	VideoID        string `json:"video_id"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// WebhookNotifier posts the rendered message to a mail relay. Bodies are
// signed with HMAC-SHA256 so the relay can reject forged deliveries.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, secret: secret, client: &http.Client{Timeout: timeout}}
}

// SignBody returns the X-Signature value for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (n *WebhookNotifier) SendKey(ctx context.Context, d KeyDelivery) error {
	subj, body, err := Render(d)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(webhookPayload{
		Event:          eventKeyIssued,
		RecipientID:    d.RecipientID,
		RecipientEmail: d.RecipientEmail,
		DebtID:         d.DebtID,
		VideoID:        d.VideoID,
		Subject:        subj,
		Body:           body,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventKeyIssued)
	req.Header.Set(SignatureHeader, SignBody(n.secret, raw))
	if id, err := common.MakeRandHexString(16); err == nil {
		req.Header.Set(DeliveryHeader, id)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

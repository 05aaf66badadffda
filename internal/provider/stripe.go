package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// StripeProvider реализует Provider поверх Stripe API.
// SDK не используется: нужные вызовы ограничены payment intents,
// refunds и transfers, их проще держать на обычном http клиенте.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	currency      string
	baseURL       string
	checkoutBase  string
	httpClient    *http.Client
}

func NewStripeProvider(secretKey, webhookSecret, currency, checkoutBase string, timeout time.Duration) *StripeProvider {
	if currency == "" {
		currency = "usd"
	}
	return &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currency:      currency,
		baseURL:       "https://api.stripe.com/v1",
		checkoutBase:  checkoutBase,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

func (p *StripeProvider) Name() string { return "stripe" }

// Charge создаёт Payment Intent. Stripe работает в минимальных единицах
// валюты, поэтому сумма переводится в центы.
func (p *StripeProvider) Charge(ctx context.Context, payer Payer, amount decimal.Decimal, meta ChargeMeta) (*ChargeResult, error) {
	txRef := fmt.Sprintf("escrow-fund-%x", uuid.New())[:21]

	form := url.Values{}
	form.Set("amount", amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	form.Set("currency", p.currency)
	form.Set("description", fmt.Sprintf("Escrow funding for %s", meta.ProjectTitle))
	form.Set("metadata[tx_ref]", txRef)
	form.Set("metadata[user_id]", payer.ID)
	form.Set("metadata[escrow_funding]", "true")
	form.Set("automatic_payment_methods[enabled]", "true")

	var resp struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := p.postForm(ctx, "/payment_intents", form, &resp); err != nil {
		return nil, fmt.Errorf("stripe: payment intent: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("stripe: payment intent: %w", ErrChargeRejected)
	}

	logger.Log.WithFields(logrus.Fields{"intent": resp.ID, "tx_ref": txRef}).Info("stripe: payment intent создан")
	return &ChargeResult{
		Reference:   txRef,
		CheckoutURL: fmt.Sprintf("%s/payment/stripe/%s", p.checkoutBase, resp.ID),
	}, nil
}

// Verify ищет Payment Intent по нашему tx_ref и проверяет, что он оплачен.
func (p *StripeProvider) Verify(ctx context.Context, reference string) (bool, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("metadata['tx_ref']:'%s'", reference))

	var resp struct {
		Data []struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, "/payment_intents/search?"+query.Encode(), &resp); err != nil {
		return false, fmt.Errorf("stripe: verify %s: %w", reference, err)
	}
	return len(resp.Data) > 0 && resp.Data[0].Status == "succeeded", nil
}

// Refund возвращает средства по исходному платежу.
func (p *StripeProvider) Refund(ctx context.Context, reference string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", reference)
	form.Set("amount", amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	form.Set("metadata[reason]", reason)

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.postForm(ctx, "/refunds", form, &resp); err != nil {
		return nil, fmt.Errorf("stripe: refund %s: %w", reference, err)
	}
	if resp.Status != "succeeded" && resp.Status != "pending" {
		return nil, fmt.Errorf("stripe: refund %s: %w", reference, ErrRefundRejected)
	}
	return &RefundResult{RefundID: resp.ID}, nil
}

// TransferToAccount переводит выплату на connected account фрилансера.
func (p *StripeProvider) TransferToAccount(ctx context.Context, account PayoutAccount, amount decimal.Decimal) (*TransferResult, error) {
	form := url.Values{}
	form.Set("amount", amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	form.Set("currency", p.currency)
	form.Set("destination", account.AccountNumber)

	var resp struct {
		ID string `json:"id"`
	}
	if err := p.postForm(ctx, "/transfers", form, &resp); err != nil {
		return nil, fmt.Errorf("stripe: transfer: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("stripe: transfer: %w", ErrTransferRejected)
	}
	return &TransferResult{TransferRef: resp.ID}, nil
}

// GetTransferStatus возвращает статус перевода. У Stripe transfer создаётся
// синхронно, поэтому наличие объекта означает успех, reversed — откат.
func (p *StripeProvider) GetTransferStatus(ctx context.Context, transferRef string) (string, error) {
	var resp struct {
		ID       string `json:"id"`
		Reversed bool   `json:"reversed"`
	}
	if err := p.getJSON(ctx, "/transfers/"+transferRef, &resp); err != nil {
		return "", fmt.Errorf("stripe: transfer status %s: %w", transferRef, err)
	}
	if resp.Reversed {
		return "reversed", nil
	}
	return "success", nil
}

// ValidateWebhook проверяет заголовок Stripe-Signature (схема t=...,v1=...).
func (p *StripeProvider) ValidateWebhook(payload []byte, signature string) bool {
	if p.webhookSecret == "" || signature == "" {
		return false
	}

	var timestamp, v1 string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if timestamp == "" || v1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(v1))
}

// ParseWebhook классифицирует событие Stripe.
func (p *StripeProvider) ParseWebhook(payload []byte) (*Event, error) {
	var body struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Metadata struct {
					TxRef string `json:"tx_ref"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("stripe: webhook payload: %w", err)
	}

	// Для funding-событий референсом остаётся наш tx_ref из metadata,
	// для переводов — id объекта transfer.
	event := &Event{ID: body.ID, Kind: EventUnknown}
	switch body.Type {
	case "payment_intent.succeeded":
		event.Kind = EventFundingConfirmed
		event.Reference = body.Data.Object.Metadata.TxRef
	case "payment_intent.payment_failed", "payment_intent.canceled":
		event.Kind = EventFundingFailed
		event.Reference = body.Data.Object.Metadata.TxRef
	case "transfer.created", "transfer.paid":
		event.Kind = EventTransferConfirmed
		event.Reference = body.Data.Object.ID
	case "transfer.failed", "transfer.reversed":
		event.Kind = EventTransferFailed
		event.Reference = body.Data.Object.ID
	}
	return event, nil
}

func (p *StripeProvider) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req, out)
}

func (p *StripeProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	return p.do(req, out)
}

func (p *StripeProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

package provider

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
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// ChapaProvider реализует Provider поверх Chapa API (https://api.chapa.co/v1).
type ChapaProvider struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	callbackURL   string
	returnURL     string
	httpClient    *http.Client
}

func NewChapaProvider(secretKey, webhookSecret, callbackURL, returnURL string, timeout time.Duration) *ChapaProvider {
	return &ChapaProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       "https://api.chapa.co/v1",
		callbackURL:   callbackURL,
		returnURL:     returnURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

func (p *ChapaProvider) Name() string { return "chapa" }

// Charge инициализирует платёж и возвращает ссылку на оплату.
// Референс генерируется на нашей стороне: он же станет ключом сверки вебхука.
func (p *ChapaProvider) Charge(ctx context.Context, payer Payer, amount decimal.Decimal, meta ChargeMeta) (*ChargeResult, error) {
	txRef := fmt.Sprintf("escrow-fund-%x", uuid.New())[:21]

	payload := map[string]any{
		"amount":       amount.StringFixed(2),
		"currency":     "ETB",
		"email":        payer.Email,
		"first_name":   payer.FirstName,
		"last_name":    payer.LastName,
		"phone_number": payer.Phone,
		"tx_ref":       txRef,
		"callback_url": p.callbackURL,
		"return_url":   p.returnURL,
		"customization": map[string]string{
			"title":       "Escrow Fund",
			"description": fmt.Sprintf("Funding escrow for project - %s", meta.ProjectTitle),
		},
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			CheckoutURL string `json:"checkout_url"`
		} `json:"data"`
	}
	if err := p.postJSON(ctx, "/transaction/initialize", payload, &resp); err != nil {
		return nil, fmt.Errorf("chapa: initialize: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("chapa: initialize: %w", ErrChargeRejected)
	}

	logger.Log.WithFields(logrus.Fields{"tx_ref": txRef, "amount": amount.String()}).Info("chapa: платёж инициализирован")
	return &ChargeResult{Reference: txRef, CheckoutURL: resp.Data.CheckoutURL}, nil
}

// Verify проверяет платёж по референсу транзакции.
func (p *ChapaProvider) Verify(ctx context.Context, reference string) (bool, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := p.getJSON(ctx, "/transaction/verify/"+reference, &resp); err != nil {
		return false, fmt.Errorf("chapa: verify %s: %w", reference, err)
	}
	return resp.Status == "success", nil
}

// Refund инициирует возврат. Chapa принимает refund form-encoded.
func (p *ChapaProvider) Refund(ctx context.Context, reference string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	form := url.Values{}
	form.Set("reason", reason)
	form.Set("amount", amount.StringFixed(2))
	form.Set("meta[reference]", "REF-"+reference)
	form.Set("meta[escrow_refund]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/refund/"+reference, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RefundID string `json:"refund_id"`
		} `json:"data"`
	}
	if err := p.do(req, &resp); err != nil {
		return nil, fmt.Errorf("chapa: refund %s: %w", reference, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("chapa: refund %s: %w", reference, ErrRefundRejected)
	}

	logger.Log.WithFields(logrus.Fields{"tx_ref": reference, "refund_id": resp.Data.RefundID}).Info("chapa: возврат инициирован")
	return &RefundResult{RefundID: resp.Data.RefundID}, nil
}

// TransferToAccount переводит средства на банковский счёт получателя.
func (p *ChapaProvider) TransferToAccount(ctx context.Context, account PayoutAccount, amount decimal.Decimal) (*TransferResult, error) {
	transferRef := fmt.Sprintf("freelancer-payment-%x", uuid.New())[:29]

	payload := map[string]any{
		"account_name":   account.AccountName,
		"account_number": account.AccountNumber,
		"amount":         amount.StringFixed(2),
		"currency":       "ETB",
		"reference":      transferRef,
		"bank_code":      account.BankCode,
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := p.postJSON(ctx, "/transfers", payload, &resp); err != nil {
		return nil, fmt.Errorf("chapa: transfer: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("chapa: transfer: %w", ErrTransferRejected)
	}

	logger.Log.WithFields(logrus.Fields{"reference": transferRef, "amount": amount.String()}).Info("chapa: перевод инициирован")
	return &TransferResult{TransferRef: transferRef}, nil
}

// GetTransferStatus возвращает статус ранее инициированного перевода.
func (p *ChapaProvider) GetTransferStatus(ctx context.Context, transferRef string) (string, error) {
	var resp struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, "/transfers/verify/"+transferRef, &resp); err != nil {
		return "", fmt.Errorf("chapa: transfer status %s: %w", transferRef, err)
	}
	if resp.Data.Status == "" {
		return "unknown", nil
	}
	return resp.Data.Status, nil
}

// GetBanks возвращает список банков, доступных для выплат.
func (p *ChapaProvider) GetBanks(ctx context.Context) ([]Bank, error) {
	var resp struct {
		Data []Bank `json:"data"`
	}
	if err := p.getJSON(ctx, "/banks", &resp); err != nil {
		return nil, fmt.Errorf("chapa: banks: %w", err)
	}
	return resp.Data, nil
}

// Bank — банк из справочника Chapa.
type Bank struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// ValidateWebhook сверяет HMAC-SHA256 подпись тела запроса.
func (p *ChapaProvider) ValidateWebhook(payload []byte, signature string) bool {
	if p.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook классифицирует уведомление Chapa.
// Для charge-событий референсом служит tx_ref, для payout — reference перевода.
func (p *ChapaProvider) ParseWebhook(payload []byte) (*Event, error) {
	var body struct {
		Event     string `json:"event"`
		TxRef     string `json:"tx_ref"`
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("chapa: webhook payload: %w", err)
	}

	event := &Event{Kind: EventUnknown}
	switch body.Event {
	case "charge.success":
		event.Kind = EventFundingConfirmed
		event.Reference = body.TxRef
	case "charge.failed":
		event.Kind = EventFundingFailed
		event.Reference = body.TxRef
	case "payout.success", "transfer.success":
		event.Kind = EventTransferConfirmed
		event.Reference = body.Reference
	case "payout.failed", "transfer.failed", "transfer.reversed":
		event.Kind = EventTransferFailed
		event.Reference = body.Reference
	}
	// У Chapa нет отдельного event id: дедуплицируем по событию и референсу.
	event.ID = body.Event + ":" + event.Reference
	return event, nil
}

func (p *ChapaProvider) postJSON(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *ChapaProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	return p.do(req, out)
}

func (p *ChapaProvider) do(req *http.Request, out any) error {
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

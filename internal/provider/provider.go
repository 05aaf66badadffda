package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrChargeRejected   = errors.New("provider rejected charge")
	ErrRefundRejected   = errors.New("provider rejected refund")
	ErrTransferRejected = errors.New("provider rejected transfer")
)

// Payer — данные плательщика, необходимые провайдеру для инициализации платежа.
type Payer struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// PayoutAccount — реквизиты получателя выплаты.
type PayoutAccount struct {
	AccountName   string
	AccountNumber string
	BankCode      string
}

// ChargeMeta — дополнительный контекст платежа (попадает в описание у провайдера).
type ChargeMeta struct {
	ProjectTitle string
	EscrowRef    string
}

// ChargeResult — результат успешной инициализации платежа.
type ChargeResult struct {
	Reference   string
	CheckoutURL string
}

// RefundResult — результат принятого провайдером возврата.
type RefundResult struct {
	RefundID string
}

// TransferResult — результат принятого провайдером перевода.
type TransferResult struct {
	TransferRef string
}

// Типы событий вебхуков после классификации.
const (
	EventFundingConfirmed  = "funding_confirmed"
	EventFundingFailed     = "funding_failed"
	EventTransferConfirmed = "transfer_confirmed"
	EventTransferFailed    = "transfer_failed"
	EventUnknown           = "unknown"
)

// Event — провайдерское уведомление, приведённое к общему виду.
type Event struct {
	ID        string
	Kind      string
	Reference string
}

// Provider — закрытый интерфейс платёжного провайдера. Ядро зависит только
// от него; конкретные реализации регистрируются в Registry при старте.
type Provider interface {
	Name() string
	Charge(ctx context.Context, payer Payer, amount decimal.Decimal, meta ChargeMeta) (*ChargeResult, error)
	Verify(ctx context.Context, reference string) (bool, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal, reason string) (*RefundResult, error)
	TransferToAccount(ctx context.Context, account PayoutAccount, amount decimal.Decimal) (*TransferResult, error)
	GetTransferStatus(ctx context.Context, transferRef string) (string, error)
	ValidateWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*Event, error)
}

// Registry — статическая карта имя → провайдер, собирается один раз в main.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get возвращает провайдера по имени.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// Names возвращает имена зарегистрированных провайдеров.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

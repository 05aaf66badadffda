package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы платежей (движений средств)
const (
	PaymentTypeFunding    = "funding"
	PaymentTypeRelease    = "release"
	PaymentTypeCommission = "commission"
	PaymentTypeRefund     = "refund"
)

// Статусы платежей
const (
	PaymentStatusPending   = "pending"
	PaymentStatusActive    = "active"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusDisputed  = "disputed"
)

// Payment представляет одну попытку движения средств.
// Реестр append-only: после completed запись не мутируется, коррекции
// оформляются новыми компенсирующими записями.
type Payment struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	EscrowID          uuid.UUID       `db:"escrow_id" json:"escrow_id"`
	UserID            uuid.UUID       `db:"user_id" json:"user_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Provider          string          `db:"provider" json:"provider"`
	ProviderReference string          `db:"provider_reference" json:"provider_reference"`
	TransactionType   string          `db:"transaction_type" json:"transaction_type"`
	Status            string          `db:"status" json:"status"`
	CorrelationID     *uuid.UUID      `db:"correlation_id" json:"correlation_id,omitempty"`
	MilestoneID       *uuid.UUID      `db:"milestone_id" json:"milestone_id,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// IsOpen сообщает, удерживает ли запись средства (ещё не финализирована).
func (p *Payment) IsOpen() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusActive
}

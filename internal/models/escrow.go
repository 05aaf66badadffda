package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы escrow
const (
	EscrowStatusPendingFunding     = "pending_funding"
	EscrowStatusFunded             = "funded"
	EscrowStatusReleasePending     = "release_pending"
	EscrowStatusReleased           = "released"
	EscrowStatusPartiallyReleased  = "partially_released"
	EscrowStatusRefunded           = "refunded"
	EscrowStatusDisputed           = "disputed"
)

// Escrow представляет депонированные средства по одному проекту.
// Запись никогда не удаляется — это финансовый документ.
type Escrow struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	ProjectID           uuid.UUID       `db:"project_id" json:"project_id"`
	FundedAmount        decimal.Decimal `db:"funded_amount" json:"funded_amount"`
	CurrentBalance      decimal.Decimal `db:"current_balance" json:"current_balance"`
	CommissionAmount    decimal.Decimal `db:"commission_amount" json:"commission_amount"`
	IsLocked            bool            `db:"is_locked" json:"is_locked"`
	Status              string          `db:"status" json:"status"`
	StatusBeforeDispute *string         `db:"status_before_dispute" json:"-"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// escrowTransitions описывает допустимые переходы статусов.
// Переход в disputed и обратно обрабатывается отдельно (см. CanDispute),
// так как возврат идёт в статус, сохранённый до открытия спора.
var escrowTransitions = map[string]map[string]struct{}{
	EscrowStatusPendingFunding: {
		EscrowStatusFunded: {},
	},
	EscrowStatusFunded: {
		EscrowStatusReleasePending: {},
		EscrowStatusRefunded:       {},
	},
	EscrowStatusReleasePending: {
		EscrowStatusReleased:          {},
		EscrowStatusPartiallyReleased: {},
		EscrowStatusFunded:            {},
	},
	EscrowStatusPartiallyReleased: {
		EscrowStatusReleasePending: {},
		EscrowStatusRefunded:       {},
	},
}

// CanTransition проверяет, разрешён ли переход статуса escrow.
func CanTransition(from, to string) bool {
	next, ok := escrowTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// CanDispute проверяет, можно ли открыть спор из текущего статуса.
// Спор открывается из любого нетерминального и ещё не спорного статуса.
func CanDispute(from string) bool {
	switch from {
	case EscrowStatusDisputed, EscrowStatusReleased, EscrowStatusRefunded:
		return false
	}
	return true
}

// BalanceInvariantHolds проверяет инвариант 0 <= current_balance <= funded_amount.
func (e *Escrow) BalanceInvariantHolds() bool {
	return !e.CurrentBalance.IsNegative() && e.CurrentBalance.LessThanOrEqual(e.FundedAmount)
}

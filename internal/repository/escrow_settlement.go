package repository

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// effectiveStatus возвращает статус, по которому реконсилятор принимает
// решения. Для disputed escrow это статус до спора: сверка фиксирует уже
// состоявшиеся у провайдера переводы, спор их не отменяет.
func effectiveStatus(e *models.Escrow) string {
	if e.Status == models.EscrowStatusDisputed && e.StatusBeforeDispute != nil {
		return *e.StatusBeforeDispute
	}
	return e.Status
}

// releaseSettlement вычисляет баланс и статус escrow после подтверждённой
// выплаты на сумму total (payout + commission).
func releaseSettlement(status string, balance, total decimal.Decimal) (decimal.Decimal, string, error) {
	newBalance := balance.Sub(total)
	if newBalance.IsNegative() {
		return decimal.Decimal{}, "", ErrBalanceInvariant
	}

	newStatus := models.EscrowStatusPartiallyReleased
	if newBalance.IsZero() {
		newStatus = models.EscrowStatusReleased
	}
	if !models.CanTransition(status, newStatus) {
		return decimal.Decimal{}, "", ErrInvalidTransition
	}

	return newBalance, newStatus, nil
}

// failedReleaseStatus возвращает статус escrow после компенсации отклонённой
// выплаты. Баланс при создании пары не списывался, поэтому решение касается
// только статуса: из release_pending escrow возвращается в funded.
func failedReleaseStatus(status string) (string, bool) {
	if status == models.EscrowStatusReleasePending {
		return models.EscrowStatusFunded, true
	}
	return status, false
}

// refundSettlement вычисляет баланс и статус escrow после подтверждённого
// провайдером возврата. Частичный возврат статус не меняет.
func refundSettlement(status string, balance, amount decimal.Decimal) (decimal.Decimal, string, error) {
	if !models.CanTransition(status, models.EscrowStatusRefunded) {
		return decimal.Decimal{}, "", ErrInvalidTransition
	}
	if amount.GreaterThan(balance) {
		return decimal.Decimal{}, "", ErrInsufficientBalance
	}

	newBalance := balance.Sub(amount)
	newStatus := status
	if newBalance.IsZero() {
		newStatus = models.EscrowStatusRefunded
	}

	return newBalance, newStatus, nil
}

package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// RefundLedger — операции реестра, нужные оркестратору возвратов.
type RefundLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	ApplyRefund(ctx context.Context, escrowID uuid.UUID, refund *models.Payment) (*models.Escrow, error)
}

// RefundService возвращает средства заказчику при отмене проекта.
// В отличие от выплат возврат подтверждается синхронно: провайдеры в нашем
// наборе возвращают исход refund-а в ответе. Провайдер с отложенным
// подтверждением потребует перевода этого оркестратора на pending/webhook
// схему по образцу выплат.
type RefundService struct {
	escrows   RefundLedger
	payments  ReleasePayments
	projects  ProjectReader
	providers ProviderRegistry
}

func NewRefundService(escrows RefundLedger, payments ReleasePayments, projects ProjectReader, providers ProviderRegistry) *RefundService {
	return &RefundService{
		escrows:   escrows,
		payments:  payments,
		projects:  projects,
		providers: providers,
	}
}

// RefundResult — результат выполненного возврата.
type RefundResult struct {
	Status        string          `json:"status"`
	RefundEntryID uuid.UUID       `json:"refund_entry_id"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"escrow_balance"`
}

// Refund проводит возврат средств заказчику. Сумма по умолчанию — весь
// текущий баланс; при обнулении баланса escrow становится refunded.
func (s *RefundService) Refund(ctx context.Context, userID, escrowID uuid.UUID, amount *decimal.Decimal, reason string) (*RefundResult, error) {
	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repository.ErrEscrowNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "escrow не найден")
		}
		return nil, err
	}

	if escrow.IsLocked {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "escrow заблокирован из-за спора")
	}

	project, err := s.projects.GetByID(ctx, escrow.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.ClientID != userID {
		return nil, apperror.New(apperror.ErrCodeValidation, "возврат может запросить только заказчик проекта")
	}

	funding, err := s.payments.LatestCompletedFunding(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.New(apperror.ErrCodeStateConflict, "нет завершённого пополнения для возврата")
		}
		return nil, err
	}

	refundAmount := escrow.CurrentBalance
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата должна быть положительной")
	}
	if refundAmount.GreaterThan(escrow.CurrentBalance) {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "сумма возврата превышает баланс escrow")
	}

	prov, err := s.providers.Get(funding.Provider)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "провайдер пополнения больше не доступен")
	}

	result, err := prov.Refund(ctx, funding.ProviderReference, refundAmount, reason)
	if err != nil {
		// Возврат не принят — записей нет, повтор безопасен.
		return nil, apperror.Wrap(err, apperror.ErrCodeProvider, "провайдер не принял возврат")
	}

	reference := result.RefundID
	if reference == "" {
		reference = "refund-" + funding.ProviderReference
	}
	refund := &models.Payment{
		UserID:            userID,
		Amount:            refundAmount,
		Provider:          funding.Provider,
		ProviderReference: reference,
	}
	escrow, err = s.escrows.ApplyRefund(ctx, escrowID, refund)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	logger.Log.WithFields(logrus.Fields{
		"escrow_id": escrowID,
		"amount":    refundAmount.String(),
		"balance":   escrow.CurrentBalance.String(),
	}).Info("refund: возврат проведён")

	return &RefundResult{
		Status:        escrow.Status,
		RefundEntryID: refund.ID,
		Amount:        refundAmount,
		Balance:       escrow.CurrentBalance,
	}, nil
}

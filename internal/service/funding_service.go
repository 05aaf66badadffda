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
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// ProviderRegistry резолвит провайдера по имени.
type ProviderRegistry interface {
	Get(name string) (provider.Provider, error)
}

// FundingLedger — операции реестра, нужные оркестратору пополнения.
type FundingLedger interface {
	CreateWithFunding(ctx context.Context, escrow *models.Escrow, funding *models.Payment) error
	MarkFunded(ctx context.Context, providerName, providerReference string) (*models.Escrow, error)
}

// FundingPayments — read-доступ к платёжному реестру.
type FundingPayments interface {
	GetByProviderReference(ctx context.Context, providerReference, transactionType string) (*models.Payment, error)
}

// ProjectReader — доступ к проектам внешнего модуля.
type ProjectReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// UserReader — доступ к пользователям внешнего модуля.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// FundingService создаёт escrow и инициирует пополнение через провайдера.
type FundingService struct {
	escrows        FundingLedger
	payments       FundingPayments
	projects       ProjectReader
	users          UserReader
	providers      ProviderRegistry
	commissionRate decimal.Decimal
}

func NewFundingService(escrows FundingLedger, payments FundingPayments, projects ProjectReader, users UserReader, providers ProviderRegistry, commissionRate decimal.Decimal) *FundingService {
	return &FundingService{
		escrows:        escrows,
		payments:       payments,
		projects:       projects,
		users:          users,
		providers:      providers,
		commissionRate: commissionRate,
	}
}

// FundingResult — результат инициализации пополнения.
type FundingResult struct {
	EscrowID    uuid.UUID       `json:"escrow_id"`
	Reference   string          `json:"tx_ref"`
	CheckoutURL string          `json:"payment_url"`
	Provider    string          `json:"provider"`
	Amount      decimal.Decimal `json:"amount"`
}

// VerifyResult — результат верификации пополнения.
type VerifyResult struct {
	Status   string    `json:"status"`
	EscrowID uuid.UUID `json:"escrow_id"`
}

// InitiateFunding создаёт escrow и запускает charge у провайдера.
// Вызов провайдера идёт до локальной транзакции: если charge не принят,
// escrow не сохраняется вовсе.
func (s *FundingService) InitiateFunding(ctx context.Context, userID, projectID uuid.UUID, amount decimal.Decimal, providerName string) (*FundingResult, error) {
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "проект не найден")
		}
		return nil, err
	}
	if project.ClientID != userID {
		return nil, apperror.New(apperror.ErrCodeValidation, "пополнять escrow может только заказчик проекта")
	}

	payer, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	prov, err := s.providers.Get(providerName)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный провайдер")
	}

	phone := ""
	if payer.Phone != nil {
		phone = *payer.Phone
	}
	charge, err := prov.Charge(ctx, provider.Payer{
		ID:        payer.ID.String(),
		Email:     payer.Email,
		FirstName: payer.FirstName,
		LastName:  payer.LastName,
		Phone:     phone,
	}, amount, provider.ChargeMeta{ProjectTitle: project.Title})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeProvider, "провайдер не принял платёж")
	}
	if charge.Reference == "" {
		return nil, apperror.New(apperror.ErrCodeProvider, "провайдер не вернул референс платежа")
	}

	escrow := &models.Escrow{
		ProjectID:        projectID,
		FundedAmount:     amount,
		CurrentBalance:   amount,
		CommissionAmount: amount.Mul(s.commissionRate).Round(2),
	}
	funding := &models.Payment{
		UserID:            userID,
		Amount:            amount,
		Provider:          providerName,
		ProviderReference: charge.Reference,
	}
	if err := s.escrows.CreateWithFunding(ctx, escrow, funding); err != nil {
		if errors.Is(err, repository.ErrEscrowExists) {
			// Клиент бросил checkout и инициирует пополнение заново.
			return nil, apperror.Wrap(err, apperror.ErrCodeStateConflict, "по проекту уже существует escrow")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить escrow")
	}

	logger.Log.WithFields(logrus.Fields{
		"escrow_id": escrow.ID,
		"tx_ref":    charge.Reference,
		"provider":  providerName,
		"amount":    amount.String(),
	}).Info("funding: escrow создан, ожидаем подтверждение оплаты")

	return &FundingResult{
		EscrowID:    escrow.ID,
		Reference:   charge.Reference,
		CheckoutURL: charge.CheckoutURL,
		Provider:    providerName,
		Amount:      amount,
	}, nil
}

// VerifyFunding сверяет платёж с провайдером и при успехе переводит escrow
// в funded. Идемпотентна и свободна от побочных эффектов при неуспехе:
// вызывающий может повторять её до подтверждения.
func (s *FundingService) VerifyFunding(ctx context.Context, providerReference string) (*VerifyResult, error) {
	payment, err := s.payments.GetByProviderReference(ctx, providerReference, models.PaymentTypeFunding)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "платёж с таким референсом не найден")
		}
		return nil, err
	}

	prov, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный провайдер")
	}

	verified, err := prov.Verify(ctx, providerReference)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeProvider, "не удалось проверить платёж")
	}
	if !verified {
		return nil, apperror.New(apperror.ErrCodeProvider, "платёж не подтверждён провайдером")
	}

	escrow, err := s.escrows.MarkFunded(ctx, payment.Provider, providerReference)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать пополнение")
	}

	logger.Log.WithFields(logrus.Fields{"escrow_id": escrow.ID, "tx_ref": providerReference}).Info("funding: escrow пополнен")
	return &VerifyResult{Status: escrow.Status, EscrowID: escrow.ID}, nil
}

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

// ReleaseLedger — операции реестра, нужные оркестратору выплат.
type ReleaseLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	BeginRelease(ctx context.Context, escrowID uuid.UUID, payout, commission *models.Payment) error
}

// ReleasePayments — read-доступ реестра для guard-ов выплаты.
type ReleasePayments interface {
	LatestCompletedFunding(ctx context.Context, escrowID uuid.UUID) (*models.Payment, error)
	HasOpenRelease(ctx context.Context, escrowID uuid.UUID, milestoneID *uuid.UUID) (bool, error)
}

// MilestoneReader — доступ к этапам проекта.
type MilestoneReader interface {
	ProjectReader
	GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
}

// PayoutMethodResolver выбирает реквизиты выплаты фрилансера.
type PayoutMethodResolver interface {
	ResolveForUser(ctx context.Context, userID uuid.UUID, providerName string) (*models.PayoutMethod, error)
}

// ReleaseService проводит выплату фрилансеру с удержанием комиссии.
type ReleaseService struct {
	escrows        ReleaseLedger
	payments       ReleasePayments
	projects       MilestoneReader
	payoutMethods  PayoutMethodResolver
	providers      ProviderRegistry
	commissionRate decimal.Decimal
}

func NewReleaseService(escrows ReleaseLedger, payments ReleasePayments, projects MilestoneReader, payoutMethods PayoutMethodResolver, providers ProviderRegistry, commissionRate decimal.Decimal) *ReleaseService {
	return &ReleaseService{
		escrows:        escrows,
		payments:       payments,
		projects:       projects,
		payoutMethods:  payoutMethods,
		providers:      providers,
		commissionRate: commissionRate,
	}
}

// ReleaseResult — принятая к исполнению выплата. Средства ещё в пути:
// финализацию или компенсацию выполнит реконсилятор по вебхуку.
type ReleaseResult struct {
	Status            string          `json:"status"`
	ReleaseEntryID    uuid.UUID       `json:"release_entry_id"`
	CommissionEntryID uuid.UUID       `json:"commission_entry_id"`
	TransferRef       string          `json:"transfer_ref"`
	ReleaseAmount     decimal.Decimal `json:"total_released"`
	FreelancerAmount  decimal.Decimal `json:"freelancer_amount"`
	Commission        decimal.Decimal `json:"commission_deducted"`
	Provider          string          `json:"provider"`
}

// SplitCommission делит сумму выплаты на комиссию и долю фрилансера.
// Комиссия округляется до копеек (half-up), доля фрилансера — остаток:
// сумма частей всегда в точности равна исходной сумме.
func SplitCommission(amount, rate decimal.Decimal) (commission, payout decimal.Decimal) {
	commission = amount.Mul(rate).Round(2)
	payout = amount.Sub(commission)
	return commission, payout
}

// ReleaseFunds проверяет guard-ы выплаты, вызывает перевод у провайдера и
// создаёт pending-пару release+commission. Guard-ы проверяются дважды:
// здесь до вызова провайдера и повторно под блокировкой строки escrow
// внутри BeginRelease — провайдерский вызов никогда не держит блокировку.
func (s *ReleaseService) ReleaseFunds(ctx context.Context, callerID, escrowID uuid.UUID, amount *decimal.Decimal, milestoneID *uuid.UUID) (*ReleaseResult, error) {
	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repository.ErrEscrowNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "escrow не найден")
		}
		return nil, err
	}

	project, err := s.projects.GetByID(ctx, escrow.ProjectID)
	if err != nil {
		return nil, err
	}
	if callerID != project.ClientID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "выплату может запустить только клиент проекта")
	}

	// Guard 1: блокировка спором.
	if escrow.IsLocked {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "escrow заблокирован из-за спора")
	}

	// Guard 2/3: гейтинг по этапу либо отсутствие другой незавершённой выплаты.
	var milestone *models.Milestone
	if milestoneID != nil {
		milestone, err = s.projects.GetMilestone(ctx, *milestoneID)
		if err != nil {
			if errors.Is(err, repository.ErrMilestoneNotFound) {
				return nil, apperror.New(apperror.ErrCodeNotFound, "этап не найден")
			}
			return nil, err
		}
		if milestone.ProjectID != escrow.ProjectID {
			return nil, apperror.New(apperror.ErrCodeValidation, "этап относится к другому проекту")
		}
		if !milestone.Releasable() {
			return nil, apperror.New(apperror.ErrCodeStateConflict, "этап не готов к выплате")
		}
	}
	open, err := s.payments.HasOpenRelease(ctx, escrowID, milestoneID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "по escrow уже ожидается выплата")
	}

	// Guard 4: сумма выплаты.
	releaseAmount := escrow.CurrentBalance
	if amount != nil {
		releaseAmount = *amount
	} else if milestone != nil {
		releaseAmount = milestone.Amount
	}
	if !releaseAmount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "нет доступного баланса для выплаты")
	}
	if releaseAmount.GreaterThan(escrow.CurrentBalance) {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "недостаточно средств на escrow")
	}

	// Guard 5: провайдер выплаты — из последнего завершённого пополнения.
	funding, err := s.payments.LatestCompletedFunding(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.New(apperror.ErrCodeStateConflict, "нет провайдера для выплаты")
		}
		return nil, err
	}
	prov, err := s.providers.Get(funding.Provider)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "провайдер пополнения больше не доступен")
	}

	method, err := s.payoutMethods.ResolveForUser(ctx, project.FreelancerID, funding.Provider)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutMethodNotFound) {
			return nil, apperror.New(apperror.ErrCodeStateConflict, "у фрилансера нет реквизитов для выплаты")
		}
		return nil, err
	}

	commission, payout := SplitCommission(releaseAmount, s.commissionRate)

	bankCode := ""
	if method.BankCode != nil {
		bankCode = *method.BankCode
	}
	transfer, err := prov.TransferToAccount(ctx, provider.PayoutAccount{
		AccountName:   method.AccountName,
		AccountNumber: method.AccountNumber,
		BankCode:      bankCode,
	}, payout)
	if err != nil {
		// Перевод не принят — в реестре ничего не создано, повтор безопасен.
		return nil, apperror.Wrap(err, apperror.ErrCodeProvider, "провайдер не принял перевод")
	}

	correlationID := uuid.New()
	payoutEntry := &models.Payment{
		UserID:            project.FreelancerID,
		Amount:            payout,
		Provider:          funding.Provider,
		ProviderReference: transfer.TransferRef,
		TransactionType:   models.PaymentTypeRelease,
		CorrelationID:     &correlationID,
		MilestoneID:       milestoneID,
	}
	commissionEntry := &models.Payment{
		UserID:            project.ClientID,
		Amount:            commission,
		Provider:          funding.Provider,
		ProviderReference: "commission-" + correlationID.String(),
		TransactionType:   models.PaymentTypeCommission,
		CorrelationID:     &correlationID,
		MilestoneID:       milestoneID,
	}

	if err := s.escrows.BeginRelease(ctx, escrowID, payoutEntry, commissionEntry); err != nil {
		// Перевод уже принят провайдером, но в реестр не записан:
		// фиксируем в логе для ручного разбора.
		logger.Log.WithFields(logrus.Fields{
			"escrow_id":    escrowID,
			"transfer_ref": transfer.TransferRef,
			"error":        err.Error(),
		}).Error("release: перевод принят провайдером, но не записан в реестр")
		return nil, mapLedgerError(err)
	}

	logger.Log.WithFields(logrus.Fields{
		"escrow_id":    escrowID,
		"transfer_ref": transfer.TransferRef,
		"payout":       payout.String(),
		"commission":   commission.String(),
	}).Info("release: выплата ожидает подтверждения провайдера")

	return &ReleaseResult{
		Status:            "pending",
		ReleaseEntryID:    payoutEntry.ID,
		CommissionEntryID: commissionEntry.ID,
		TransferRef:       transfer.TransferRef,
		ReleaseAmount:     releaseAmount,
		FreelancerAmount:  payout,
		Commission:        commission,
		Provider:          funding.Provider,
	}, nil
}

// mapLedgerError переводит sentinel-ошибки хранилища в коды таксономии.
func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, repository.ErrEscrowLocked):
		return apperror.Wrap(err, apperror.ErrCodeStateConflict, "escrow заблокирован из-за спора")
	case errors.Is(err, repository.ErrReleaseAlreadyPending):
		return apperror.Wrap(err, apperror.ErrCodeStateConflict, "по escrow уже ожидается выплата")
	case errors.Is(err, repository.ErrInsufficientBalance):
		return apperror.Wrap(err, apperror.ErrCodeStateConflict, "недостаточно средств на escrow")
	case errors.Is(err, repository.ErrInvalidTransition):
		return apperror.Wrap(err, apperror.ErrCodeStateConflict, "операция несовместима со статусом escrow")
	case errors.Is(err, repository.ErrBalanceInvariant):
		return apperror.Wrap(err, apperror.ErrCodeConsistency, "баланс escrow ушёл бы в минус")
	case errors.Is(err, repository.ErrEscrowNotFound):
		return apperror.Wrap(err, apperror.ErrCodeNotFound, "escrow не найден")
	default:
		return err
	}
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// PayoutMethodStore — хранилище реквизитов для выплат.
type PayoutMethodStore interface {
	Create(ctx context.Context, method *models.PayoutMethod) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PayoutMethod, error)
	SetDefault(ctx context.Context, userID, methodID uuid.UUID) error
}

// PayoutMethodService управляет сохранёнными реквизитами фрилансера.
type PayoutMethodService struct {
	methods   PayoutMethodStore
	providers ProviderRegistry
}

func NewPayoutMethodService(methods PayoutMethodStore, providers ProviderRegistry) *PayoutMethodService {
	return &PayoutMethodService{methods: methods, providers: providers}
}

// CreateMethodInput — данные нового метода выплат.
type CreateMethodInput struct {
	Provider      string  `json:"provider" binding:"required"`
	AccountName   string  `json:"account_name" binding:"required"`
	AccountNumber string  `json:"account_number" binding:"required"`
	BankCode      *string `json:"bank_code,omitempty"`
	IsDefault     bool    `json:"is_default"`
}

// Create сохраняет реквизиты. Провайдер должен быть известен реестру
// провайдеров, иначе выплата по методу никогда не пройдёт.
func (s *PayoutMethodService) Create(ctx context.Context, userID uuid.UUID, input CreateMethodInput) (*models.PayoutMethod, error) {
	providerName := strings.ToLower(strings.TrimSpace(input.Provider))
	if _, err := s.providers.Get(providerName); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный провайдер: "+input.Provider)
	}
	if strings.TrimSpace(input.AccountNumber) == "" || strings.TrimSpace(input.AccountName) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "реквизиты счёта не заполнены")
	}

	method := &models.PayoutMethod{
		ID:            uuid.New(),
		UserID:        userID,
		Provider:      providerName,
		AccountName:   strings.TrimSpace(input.AccountName),
		AccountNumber: strings.TrimSpace(input.AccountNumber),
		BankCode:      input.BankCode,
		IsDefault:     input.IsDefault,
	}
	if err := s.methods.Create(ctx, method); err != nil {
		return nil, mapLedgerError(err)
	}
	return method, nil
}

// List возвращает методы пользователя в порядке выбора по умолчанию.
func (s *PayoutMethodService) List(ctx context.Context, userID uuid.UUID) ([]models.PayoutMethod, error) {
	methods, err := s.methods.ListByUser(ctx, userID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return methods, nil
}

// SetDefault делает метод основным для пользователя.
func (s *PayoutMethodService) SetDefault(ctx context.Context, userID, methodID uuid.UUID) error {
	if err := s.methods.SetDefault(ctx, userID, methodID); err != nil {
		if errors.Is(err, repository.ErrPayoutMethodNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "метод выплат не найден")
		}
		return mapLedgerError(err)
	}
	return nil
}

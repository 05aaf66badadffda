package service

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

// mockLedger покрывает все интерфейсы реестра, которые видят оркестраторы.
type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) CreateWithFunding(ctx context.Context, escrow *models.Escrow, funding *models.Payment) error {
	args := m.Called(ctx, escrow, funding)
	return args.Error(0)
}

func (m *mockLedger) MarkFunded(ctx context.Context, providerName, providerReference string) (*models.Escrow, error) {
	args := m.Called(ctx, providerName, providerReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

func (m *mockLedger) FailFunding(ctx context.Context, providerName, providerReference string) error {
	args := m.Called(ctx, providerName, providerReference)
	return args.Error(0)
}

func (m *mockLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

func (m *mockLedger) GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Escrow, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

func (m *mockLedger) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Escrow, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Escrow), args.Error(1)
}

func (m *mockLedger) BeginRelease(ctx context.Context, escrowID uuid.UUID, payout, commission *models.Payment) error {
	args := m.Called(ctx, escrowID, payout, commission)
	return args.Error(0)
}

func (m *mockLedger) CompleteTransfer(ctx context.Context, providerName, transferRef string) (*repository.ReleaseOutcome, error) {
	args := m.Called(ctx, providerName, transferRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ReleaseOutcome), args.Error(1)
}

func (m *mockLedger) FailTransfer(ctx context.Context, providerName, transferRef string) (*repository.ReleaseOutcome, error) {
	args := m.Called(ctx, providerName, transferRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ReleaseOutcome), args.Error(1)
}

func (m *mockLedger) ApplyRefund(ctx context.Context, escrowID uuid.UUID, refund *models.Payment) (*models.Escrow, error) {
	args := m.Called(ctx, escrowID, refund)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

func (m *mockLedger) LockForDispute(ctx context.Context, escrowID uuid.UUID) (*models.Escrow, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

func (m *mockLedger) ResolveDispute(ctx context.Context, escrowID uuid.UUID) (*models.Escrow, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

// mockPayments — read-сторона журнала проводок.
type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) GetByProviderReference(ctx context.Context, providerReference, transactionType string) (*models.Payment, error) {
	args := m.Called(ctx, providerReference, transactionType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPayments) LatestCompletedFunding(ctx context.Context, escrowID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPayments) HasOpenRelease(ctx context.Context, escrowID uuid.UUID, milestoneID *uuid.UUID) (bool, error) {
	args := m.Called(ctx, escrowID, milestoneID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPayments) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Payment, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Payment), args.Error(1)
}

// mockProjects — модуль проектов.
type mockProjects struct {
	mock.Mock
}

func (m *mockProjects) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *mockProjects) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

// mockUsers — модуль аккаунтов.
type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// mockPayoutMethods — хранилище реквизитов выплат.
type mockPayoutMethods struct {
	mock.Mock
}

func (m *mockPayoutMethods) ResolveForUser(ctx context.Context, userID uuid.UUID, providerName string) (*models.PayoutMethod, error) {
	args := m.Called(ctx, userID, providerName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PayoutMethod), args.Error(1)
}

// mockWebhookStore — таблица дедупликации вебхуков.
type mockWebhookStore struct {
	mock.Mock
}

func (m *mockWebhookStore) MarkSeen(ctx context.Context, providerName, eventID string) (bool, error) {
	args := m.Called(ctx, providerName, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebhookStore) Annotate(ctx context.Context, providerName, eventID, note string) error {
	args := m.Called(ctx, providerName, eventID, note)
	return args.Error(0)
}

// mockProvider реализует provider.Provider.
type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Charge(ctx context.Context, payer provider.Payer, amount decimal.Decimal, meta provider.ChargeMeta) (*provider.ChargeResult, error) {
	args := m.Called(ctx, payer, amount, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ChargeResult), args.Error(1)
}

func (m *mockProvider) Verify(ctx context.Context, reference string) (bool, error) {
	args := m.Called(ctx, reference)
	return args.Bool(0), args.Error(1)
}

func (m *mockProvider) Refund(ctx context.Context, reference string, amount decimal.Decimal, reason string) (*provider.RefundResult, error) {
	args := m.Called(ctx, reference, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.RefundResult), args.Error(1)
}

func (m *mockProvider) TransferToAccount(ctx context.Context, account provider.PayoutAccount, amount decimal.Decimal) (*provider.TransferResult, error) {
	args := m.Called(ctx, account, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.TransferResult), args.Error(1)
}

func (m *mockProvider) GetTransferStatus(ctx context.Context, transferRef string) (string, error) {
	args := m.Called(ctx, transferRef)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ValidateWebhook(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *mockProvider) ParseWebhook(payload []byte) (*provider.Event, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Event), args.Error(1)
}

// testRegistry собирает реестр провайдеров для тестов.
func testRegistry(providers ...provider.Provider) *provider.Registry {
	return provider.NewRegistry(providers...)
}

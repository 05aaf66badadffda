package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type fundingFixture struct {
	ledger   *mockLedger
	payments *mockPayments
	projects *mockProjects
	users    *mockUsers
	chapa    *mockProvider
	svc      *FundingService

	clientID  uuid.UUID
	projectID uuid.UUID
	project   *models.Project
	client    *models.User
}

func newFundingFixture() *fundingFixture {
	f := &fundingFixture{
		ledger:    new(mockLedger),
		payments:  new(mockPayments),
		projects:  new(mockProjects),
		users:     new(mockUsers),
		chapa:     &mockProvider{name: "chapa"},
		clientID:  uuid.New(),
		projectID: uuid.New(),
	}
	f.project = &models.Project{
		ID:           f.projectID,
		ClientID:     f.clientID,
		FreelancerID: uuid.New(),
		Title:        "Лендинг",
	}
	f.client = &models.User{
		ID:    f.clientID,
		Email: "client@example.com",
		Role:  models.RoleClient,
	}
	f.svc = NewFundingService(f.ledger, f.payments, f.projects, f.users, testRegistry(f.chapa), dec("0.10"))
	return f
}

func TestInitiateFunding_Success(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.users.On("GetByID", ctx, f.clientID).Return(f.client, nil)
	f.chapa.On("Charge", ctx, mock.Anything, dec("250.00"), mock.Anything).
		Return(&provider.ChargeResult{
			Reference:   "escrow-fund-deadbeef",
			CheckoutURL: "https://checkout.chapa.co/pay/deadbeef",
		}, nil)
	f.ledger.On("CreateWithFunding", ctx, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.InitiateFunding(ctx, f.clientID, f.projectID, dec("250.00"), "chapa")

	assert.NoError(t, err)
	assert.Equal(t, "escrow-fund-deadbeef", result.Reference)
	assert.Equal(t, "https://checkout.chapa.co/pay/deadbeef", result.CheckoutURL)

	escrow := f.ledger.Calls[0].Arguments.Get(1).(*models.Escrow)
	funding := f.ledger.Calls[0].Arguments.Get(2).(*models.Payment)
	assert.True(t, escrow.FundedAmount.Equal(dec("250.00")))
	assert.True(t, escrow.CommissionAmount.Equal(dec("25.00")))
	assert.Equal(t, "escrow-fund-deadbeef", funding.ProviderReference)
	assert.Equal(t, "chapa", funding.Provider)
}

func TestInitiateFunding_NonPositiveAmount(t *testing.T) {
	f := newFundingFixture()

	_, err := f.svc.InitiateFunding(context.Background(), f.clientID, f.projectID, dec("0"), "chapa")

	assert.True(t, apperror.IsValidation(err))
	f.chapa.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiateFunding_OnlyClientCanFund(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()
	stranger := uuid.New()

	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)

	_, err := f.svc.InitiateFunding(ctx, stranger, f.projectID, dec("100.00"), "chapa")

	assert.True(t, apperror.IsValidation(err))
}

func TestInitiateFunding_UnknownProvider(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.users.On("GetByID", ctx, f.clientID).Return(f.client, nil)

	_, err := f.svc.InitiateFunding(ctx, f.clientID, f.projectID, dec("100.00"), "paypal")

	assert.True(t, apperror.IsValidation(err))
}

func TestInitiateFunding_ChargeRejected(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.users.On("GetByID", ctx, f.clientID).Return(f.client, nil)
	f.chapa.On("Charge", ctx, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, provider.ErrChargeRejected)

	_, err := f.svc.InitiateFunding(ctx, f.clientID, f.projectID, dec("100.00"), "chapa")

	assert.True(t, apperror.IsProvider(err))
	// Escrow не создаётся, пока charge не принят.
	f.ledger.AssertNotCalled(t, "CreateWithFunding", mock.Anything, mock.Anything, mock.Anything)
}

// Повторная инициация пополнения после брошенного checkout упирается в
// существующий escrow проекта и отвечает конфликтом, а не 500.
func TestInitiateFunding_EscrowAlreadyExists(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.users.On("GetByID", ctx, f.clientID).Return(f.client, nil)
	f.chapa.On("Charge", ctx, mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.ChargeResult{
			Reference:   "escrow-fund-cafe",
			CheckoutURL: "https://checkout.chapa.co/pay/cafe",
		}, nil)
	f.ledger.On("CreateWithFunding", ctx, mock.Anything, mock.Anything).
		Return(repository.ErrEscrowExists)

	_, err := f.svc.InitiateFunding(ctx, f.clientID, f.projectID, dec("100.00"), "chapa")

	assert.True(t, apperror.IsStateConflict(err))
}

func TestVerifyFunding_Success(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()
	escrowID := uuid.New()

	f.payments.On("GetByProviderReference", ctx, "escrow-fund-abc", models.PaymentTypeFunding).
		Return(&models.Payment{
			EscrowID:          escrowID,
			Provider:          "chapa",
			ProviderReference: "escrow-fund-abc",
			Status:            models.PaymentStatusPending,
		}, nil)
	f.chapa.On("Verify", ctx, "escrow-fund-abc").Return(true, nil)
	f.ledger.On("MarkFunded", ctx, "chapa", "escrow-fund-abc").Return(&models.Escrow{
		ID:     escrowID,
		Status: models.EscrowStatusFunded,
	}, nil)

	result, err := f.svc.VerifyFunding(ctx, "escrow-fund-abc")

	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, result.Status)
	assert.Equal(t, escrowID, result.EscrowID)
}

func TestVerifyFunding_NotConfirmed(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	f.payments.On("GetByProviderReference", ctx, "escrow-fund-abc", models.PaymentTypeFunding).
		Return(&models.Payment{Provider: "chapa", ProviderReference: "escrow-fund-abc"}, nil)
	f.chapa.On("Verify", ctx, "escrow-fund-abc").Return(false, nil)

	_, err := f.svc.VerifyFunding(ctx, "escrow-fund-abc")

	assert.True(t, apperror.IsProvider(err))
	// Неподтверждённый платёж ничего не меняет: вызов можно повторять.
	f.ledger.AssertNotCalled(t, "MarkFunded", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyFunding_UnknownReference(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	f.payments.On("GetByProviderReference", ctx, "escrow-fund-missing", models.PaymentTypeFunding).
		Return(nil, repository.ErrPaymentNotFound)

	_, err := f.svc.VerifyFunding(ctx, "escrow-fund-missing")

	assert.True(t, apperror.IsNotFound(err))
}

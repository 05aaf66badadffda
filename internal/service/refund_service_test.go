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
)

type refundFixture struct {
	ledger   *mockLedger
	payments *mockPayments
	projects *mockProjects
	chapa    *mockProvider
	svc      *RefundService

	clientID  uuid.UUID
	escrowID  uuid.UUID
	projectID uuid.UUID
	escrow    *models.Escrow
	project   *models.Project
}

func newRefundFixture() *refundFixture {
	f := &refundFixture{
		ledger:    new(mockLedger),
		payments:  new(mockPayments),
		projects:  new(mockProjects),
		chapa:     &mockProvider{name: "chapa"},
		clientID:  uuid.New(),
		escrowID:  uuid.New(),
		projectID: uuid.New(),
	}
	f.escrow = &models.Escrow{
		ID:             f.escrowID,
		ProjectID:      f.projectID,
		FundedAmount:   dec("100.00"),
		CurrentBalance: dec("100.00"),
		Status:         models.EscrowStatusFunded,
	}
	f.project = &models.Project{
		ID:           f.projectID,
		ClientID:     f.clientID,
		FreelancerID: uuid.New(),
	}
	f.svc = NewRefundService(f.ledger, f.payments, f.projects, testRegistry(f.chapa))
	return f
}

func TestRefund_FullBalance(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider:          "chapa",
		ProviderReference: "escrow-fund-abc",
	}, nil)
	f.chapa.On("Refund", ctx, "escrow-fund-abc", dec("100.00"), "проект отменён").
		Return(&provider.RefundResult{RefundID: "rf-1"}, nil)
	f.ledger.On("ApplyRefund", ctx, f.escrowID, mock.Anything).Return(&models.Escrow{
		ID:             f.escrowID,
		CurrentBalance: dec("0"),
		Status:         models.EscrowStatusRefunded,
	}, nil)

	result, err := f.svc.Refund(ctx, f.clientID, f.escrowID, nil, "проект отменён")

	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusRefunded, result.Status)
	assert.True(t, result.Amount.Equal(dec("100.00")))
	assert.True(t, result.Balance.IsZero())
}

func TestRefund_PartialKeepsEscrowOpen(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider:          "chapa",
		ProviderReference: "escrow-fund-abc",
	}, nil)
	f.chapa.On("Refund", ctx, "escrow-fund-abc", dec("30.00"), "").
		Return(&provider.RefundResult{RefundID: "rf-2"}, nil)
	f.ledger.On("ApplyRefund", ctx, f.escrowID, mock.Anything).Return(&models.Escrow{
		ID:             f.escrowID,
		CurrentBalance: dec("70.00"),
		Status:         models.EscrowStatusFunded,
	}, nil)

	amount := dec("30.00")
	result, err := f.svc.Refund(ctx, f.clientID, f.escrowID, &amount, "")

	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, result.Status)
	assert.True(t, result.Balance.Equal(dec("70.00")))
}

func TestRefund_LockedEscrow(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()
	f.escrow.IsLocked = true

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)

	_, err := f.svc.Refund(ctx, f.clientID, f.escrowID, nil, "")

	assert.True(t, apperror.IsStateConflict(err))
	f.chapa.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefund_OnlyClientAllowed(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)

	_, err := f.svc.Refund(ctx, uuid.New(), f.escrowID, nil, "")

	assert.True(t, apperror.IsValidation(err))
}

func TestRefund_AmountExceedsBalance(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider:          "chapa",
		ProviderReference: "escrow-fund-abc",
	}, nil)

	amount := dec("150.00")
	_, err := f.svc.Refund(ctx, f.clientID, f.escrowID, &amount, "")

	assert.True(t, apperror.IsStateConflict(err))
	f.chapa.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefund_ProviderRejects(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider:          "chapa",
		ProviderReference: "escrow-fund-abc",
	}, nil)
	f.chapa.On("Refund", ctx, "escrow-fund-abc", mock.Anything, mock.Anything).
		Return(nil, provider.ErrRefundRejected)

	_, err := f.svc.Refund(ctx, f.clientID, f.escrowID, nil, "")

	assert.True(t, apperror.IsProvider(err))
	f.ledger.AssertNotCalled(t, "ApplyRefund", mock.Anything, mock.Anything, mock.Anything)
}

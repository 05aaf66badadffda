package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSplitCommission(t *testing.T) {
	rate := dec("0.10")

	cases := []struct {
		amount     string
		commission string
		payout     string
	}{
		{"10.00", "1.00", "9.00"},
		{"0.01", "0.00", "0.01"},
		{"999.99", "100.00", "899.99"},
		{"33.33", "3.33", "30.00"},
		{"0.05", "0.01", "0.04"},
	}

	for _, tc := range cases {
		commission, payout := SplitCommission(dec(tc.amount), rate)
		assert.True(t, commission.Equal(dec(tc.commission)),
			"комиссия для %s: ожидали %s, получили %s", tc.amount, tc.commission, commission)
		assert.True(t, payout.Equal(dec(tc.payout)),
			"доля фрилансера для %s: ожидали %s, получили %s", tc.amount, tc.payout, payout)
		// Сумма частей всегда в точности равна исходной сумме.
		assert.True(t, commission.Add(payout).Equal(dec(tc.amount)))
	}
}

type releaseFixture struct {
	ledger   *mockLedger
	payments *mockPayments
	projects *mockProjects
	methods  *mockPayoutMethods
	chapa    *mockProvider
	svc      *ReleaseService

	clientID     uuid.UUID
	freelancerID uuid.UUID
	escrowID     uuid.UUID
	projectID    uuid.UUID
	escrow       *models.Escrow
	project      *models.Project
}

func newReleaseFixture() *releaseFixture {
	f := &releaseFixture{
		ledger:       new(mockLedger),
		payments:     new(mockPayments),
		projects:     new(mockProjects),
		methods:      new(mockPayoutMethods),
		chapa:        &mockProvider{name: "chapa"},
		clientID:     uuid.New(),
		freelancerID: uuid.New(),
		escrowID:     uuid.New(),
		projectID:    uuid.New(),
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
		FreelancerID: f.freelancerID,
		Title:        "Сайт-визитка",
	}
	f.svc = NewReleaseService(f.ledger, f.payments, f.projects, f.methods, testRegistry(f.chapa), dec("0.10"))
	return f
}

func TestReleaseFunds_FullBalance(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("HasOpenRelease", ctx, f.escrowID, (*uuid.UUID)(nil)).Return(false, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider:          "chapa",
		ProviderReference: "escrow-fund-abc",
		Status:            models.PaymentStatusCompleted,
	}, nil)
	f.methods.On("ResolveForUser", ctx, f.freelancerID, "chapa").Return(&models.PayoutMethod{
		AccountName:   "Abebe Bikila",
		AccountNumber: "1000123456",
	}, nil)
	f.chapa.On("TransferToAccount", ctx, mock.Anything, dec("90.00")).
		Return(&provider.TransferResult{TransferRef: "freelancer-payment-xyz"}, nil)
	f.ledger.On("BeginRelease", ctx, f.escrowID, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, nil)

	assert.NoError(t, err)
	assert.Equal(t, "pending", result.Status)
	assert.True(t, result.FreelancerAmount.Equal(dec("90.00")))
	assert.True(t, result.Commission.Equal(dec("10.00")))
	assert.Equal(t, "freelancer-payment-xyz", result.TransferRef)

	// Пара проводок делит один correlation_id и провайдерские референсы.
	payout := f.ledger.Calls[len(f.ledger.Calls)-1].Arguments.Get(2).(*models.Payment)
	commission := f.ledger.Calls[len(f.ledger.Calls)-1].Arguments.Get(3).(*models.Payment)
	assert.Equal(t, models.PaymentTypeRelease, payout.TransactionType)
	assert.Equal(t, models.PaymentTypeCommission, commission.TransactionType)
	assert.NotNil(t, payout.CorrelationID)
	assert.Equal(t, payout.CorrelationID, commission.CorrelationID)
	assert.Equal(t, "commission-"+payout.CorrelationID.String(), commission.ProviderReference)
}

func TestReleaseFunds_OnlyClientAllowed(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)

	_, err := f.svc.ReleaseFunds(ctx, f.freelancerID, f.escrowID, nil, nil)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, apperror.CodeOf(err))
	f.chapa.AssertNotCalled(t, "TransferToAccount", mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseFunds_LockedEscrow(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()
	f.escrow.IsLocked = true

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, nil)

	assert.True(t, apperror.IsStateConflict(err))
	f.chapa.AssertNotCalled(t, "TransferToAccount", mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseFunds_OpenReleaseBlocks(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("HasOpenRelease", ctx, f.escrowID, (*uuid.UUID)(nil)).Return(true, nil)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, nil)

	assert.True(t, apperror.IsStateConflict(err))
}

func TestReleaseFunds_AmountExceedsBalance(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("HasOpenRelease", ctx, f.escrowID, (*uuid.UUID)(nil)).Return(false, nil)

	amount := dec("150.00")
	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, &amount, nil)

	assert.True(t, apperror.IsStateConflict(err))
}

func TestReleaseFunds_MilestoneNotReady(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()
	milestoneID := uuid.New()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.projects.On("GetMilestone", ctx, milestoneID).Return(&models.Milestone{
		ID:        milestoneID,
		ProjectID: f.projectID,
		Amount:    dec("40.00"),
		Status:    models.MilestoneStatusPending,
	}, nil)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, &milestoneID)

	assert.True(t, apperror.IsStateConflict(err))
}

func TestReleaseFunds_MilestoneFromOtherProject(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()
	milestoneID := uuid.New()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.projects.On("GetMilestone", ctx, milestoneID).Return(&models.Milestone{
		ID:        milestoneID,
		ProjectID: uuid.New(),
		Status:    models.MilestoneStatusApproved,
	}, nil)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, &milestoneID)

	assert.True(t, apperror.IsValidation(err))
}

func TestReleaseFunds_ProviderRejectsTransfer(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("HasOpenRelease", ctx, f.escrowID, (*uuid.UUID)(nil)).Return(false, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider: "chapa",
	}, nil)
	f.methods.On("ResolveForUser", ctx, f.freelancerID, "chapa").Return(&models.PayoutMethod{
		AccountName:   "Abebe Bikila",
		AccountNumber: "1000123456",
	}, nil)
	f.chapa.On("TransferToAccount", ctx, mock.Anything, mock.Anything).
		Return(nil, provider.ErrTransferRejected)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, nil)

	assert.True(t, apperror.IsProvider(err))
	// Локальных записей не создано: повтор безопасен.
	f.ledger.AssertNotCalled(t, "BeginRelease", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Вторая из двух конкурентных выплат проигрывает на повторной проверке
// guard-ов под блокировкой строки escrow.
func TestReleaseFunds_ConcurrentLoserGetsConflict(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("HasOpenRelease", ctx, f.escrowID, (*uuid.UUID)(nil)).Return(false, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider: "chapa",
	}, nil)
	f.methods.On("ResolveForUser", ctx, f.freelancerID, "chapa").Return(&models.PayoutMethod{
		AccountName:   "Abebe Bikila",
		AccountNumber: "1000123456",
	}, nil)
	f.chapa.On("TransferToAccount", ctx, mock.Anything, mock.Anything).
		Return(&provider.TransferResult{TransferRef: "freelancer-payment-late"}, nil)
	f.ledger.On("BeginRelease", ctx, f.escrowID, mock.Anything, mock.Anything).
		Return(repository.ErrReleaseAlreadyPending)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, nil)

	assert.True(t, apperror.IsStateConflict(err))
}

func TestReleaseFunds_NoPayoutMethod(t *testing.T) {
	f := newReleaseFixture()
	ctx := context.Background()

	f.ledger.On("GetByID", ctx, f.escrowID).Return(f.escrow, nil)
	f.projects.On("GetByID", ctx, f.projectID).Return(f.project, nil)
	f.payments.On("HasOpenRelease", ctx, f.escrowID, (*uuid.UUID)(nil)).Return(false, nil)
	f.payments.On("LatestCompletedFunding", ctx, f.escrowID).Return(&models.Payment{
		Provider: "chapa",
	}, nil)
	f.methods.On("ResolveForUser", ctx, f.freelancerID, "chapa").
		Return(nil, repository.ErrPayoutMethodNotFound)

	_, err := f.svc.ReleaseFunds(ctx, f.clientID, f.escrowID, nil, nil)

	assert.True(t, apperror.IsStateConflict(err))
	f.chapa.AssertNotCalled(t, "TransferToAccount", mock.Anything, mock.Anything, mock.Anything)
}

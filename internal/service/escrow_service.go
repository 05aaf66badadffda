package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// EscrowReader — читающая сторона реестра.
type EscrowReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Escrow, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Escrow, error)
}

// PaymentReader — читающая сторона журнала проводок.
type PaymentReader interface {
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Payment, error)
}

// EscrowService — читающая поверхность реестра: карточка escrow с
// проводками и списки по пользователю. Денежные операции живут в
// Funding/Release/Refund-сервисах.
type EscrowService struct {
	escrows  EscrowReader
	payments PaymentReader
	projects ProjectReader
}

func NewEscrowService(escrows EscrowReader, payments PaymentReader, projects ProjectReader) *EscrowService {
	return &EscrowService{escrows: escrows, payments: payments, projects: projects}
}

// EscrowDetails — карточка escrow вместе с журналом проводок.
type EscrowDetails struct {
	Escrow   *models.Escrow   `json:"escrow"`
	Payments []models.Payment `json:"payments"`
}

// GetWithPayments возвращает escrow и его проводки. Доступно только
// сторонам проекта.
func (s *EscrowService) GetWithPayments(ctx context.Context, escrowID, callerID uuid.UUID) (*EscrowDetails, error) {
	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	project, err := s.projects.GetByID(ctx, escrow.ProjectID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if callerID != project.ClientID && callerID != project.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "вы не являетесь стороной этой сделки")
	}

	payments, err := s.payments.ListByEscrow(ctx, escrowID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return &EscrowDetails{Escrow: escrow, Payments: payments}, nil
}

// GetByProject возвращает escrow проекта.
func (s *EscrowService) GetByProject(ctx context.Context, projectID, callerID uuid.UUID) (*models.Escrow, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if callerID != project.ClientID && callerID != project.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "вы не являетесь стороной этой сделки")
	}
	escrow, err := s.escrows.GetByProjectID(ctx, projectID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return escrow, nil
}

// ListByUser возвращает escrow, где пользователь выступает стороной сделки.
func (s *EscrowService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Escrow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	escrows, err := s.escrows.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return escrows, nil
}

package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// DisputeLedger — операции реестра для заморозки и разморозки escrow.
type DisputeLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	LockForDispute(ctx context.Context, escrowID uuid.UUID) (*models.Escrow, error)
	ResolveDispute(ctx context.Context, escrowID uuid.UUID) (*models.Escrow, error)
}

// DisputeService замораживает денежные операции по escrow на время спора.
// Заморозка обратима: прежний статус сохраняется и восстанавливается
// при разрешении спора.
type DisputeService struct {
	escrows  DisputeLedger
	projects ProjectReader
}

func NewDisputeService(escrows DisputeLedger, projects ProjectReader) *DisputeService {
	return &DisputeService{escrows: escrows, projects: projects}
}

// LockEscrow переводит escrow в disputed. Разрешено обеим сторонам проекта.
func (s *DisputeService) LockEscrow(ctx context.Context, escrowID, callerID uuid.UUID) (*models.Escrow, error) {
	if err := s.checkParty(ctx, escrowID, callerID); err != nil {
		return nil, err
	}

	escrow, err := s.escrows.LockForDispute(ctx, escrowID)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	logger.Log.WithFields(logrus.Fields{
		"escrow_id":     escrow.ID,
		"status_before": escrow.StatusBeforeDispute,
	}).Info("escrow заморожен по спору")
	return escrow, nil
}

// ResolveDispute снимает заморозку и возвращает escrow в статус,
// который был до спора.
func (s *DisputeService) ResolveDispute(ctx context.Context, escrowID, callerID uuid.UUID) (*models.Escrow, error) {
	if err := s.checkParty(ctx, escrowID, callerID); err != nil {
		return nil, err
	}

	escrow, err := s.escrows.ResolveDispute(ctx, escrowID)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	logger.Log.WithFields(logrus.Fields{
		"escrow_id": escrow.ID,
		"status":    escrow.Status,
	}).Info("спор разрешён, заморозка снята")
	return escrow, nil
}

func (s *DisputeService) checkParty(ctx context.Context, escrowID, callerID uuid.UUID) error {
	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return mapLedgerError(err)
	}
	project, err := s.projects.GetByID(ctx, escrow.ProjectID)
	if err != nil {
		return mapLedgerError(err)
	}
	if callerID != project.ClientID && callerID != project.FreelancerID {
		return apperror.New(apperror.ErrCodeForbidden, "вы не являетесь стороной этой сделки")
	}
	return nil
}

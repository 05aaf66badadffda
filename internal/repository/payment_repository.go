package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// PaymentRepository — read-сторона платёжного реестра. Записи мутирует
// только EscrowRepository внутри своих транзакций.
type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// GetByProviderReference возвращает запись по референсу провайдера и типу.
func (r *PaymentRepository) GetByProviderReference(ctx context.Context, providerReference, transactionType string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `
		SELECT * FROM payments WHERE provider_reference = $1 AND transaction_type = $2
	`, providerReference, transactionType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// LatestCompletedFunding возвращает последнюю завершённую funding-запись
// escrow — из неё резолвится провайдер выплат и возвратов.
func (r *PaymentRepository) LatestCompletedFunding(ctx context.Context, escrowID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `
		SELECT * FROM payments
		WHERE escrow_id = $1 AND transaction_type = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1
	`, escrowID, models.PaymentTypeFunding, models.PaymentStatusCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// HasOpenRelease сообщает, есть ли незавершённая выплата по escrow
// (или по конкретному этапу, если он указан). Предварительная проверка:
// решающая перепроверка делается под блокировкой в BeginRelease.
func (r *PaymentRepository) HasOpenRelease(ctx context.Context, escrowID uuid.UUID, milestoneID *uuid.UUID) (bool, error) {
	var count int
	var err error
	if milestoneID != nil {
		err = r.db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM payments
			WHERE milestone_id = $1 AND transaction_type = $2 AND status IN ($3, $4)
		`, milestoneID, models.PaymentTypeRelease, models.PaymentStatusPending, models.PaymentStatusActive)
	} else {
		err = r.db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM payments
			WHERE escrow_id = $1 AND transaction_type = $2 AND status IN ($3, $4)
		`, escrowID, models.PaymentTypeRelease, models.PaymentStatusPending, models.PaymentStatusActive)
	}
	return count > 0, err
}

// ListByEscrow возвращает историю движений средств по escrow.
func (r *PaymentRepository) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments WHERE escrow_id = $1 ORDER BY created_at DESC
	`, escrowID)
	return payments, err
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var ErrPayoutMethodNotFound = errors.New("payout method not found")

type PayoutMethodRepository struct {
	db *sqlx.DB
}

func NewPayoutMethodRepository(db *sqlx.DB) *PayoutMethodRepository {
	return &PayoutMethodRepository{db: db}
}

// Create сохраняет реквизиты выплаты. Если метод помечен дефолтным,
// прежний дефолт того же провайдера снимается в той же транзакции.
func (r *PayoutMethodRepository) Create(ctx context.Context, method *models.PayoutMethod) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if method.IsDefault {
			if _, err := tx.ExecContext(ctx, `
				UPDATE payout_methods SET is_default = FALSE WHERE user_id = $1 AND provider = $2
			`, method.UserID, method.Provider); err != nil {
				return err
			}
		}
		return tx.GetContext(ctx, method, `
			INSERT INTO payout_methods (user_id, provider, account_name, account_number, bank_code, is_default)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		`, method.UserID, method.Provider, method.AccountName, method.AccountNumber, method.BankCode, method.IsDefault)
	})
}

// ResolveForUser возвращает метод выплаты пользователя у провайдера.
// Порядок выбора задокументирован и детерминирован:
// is_default DESC, created_at DESC.
func (r *PayoutMethodRepository) ResolveForUser(ctx context.Context, userID uuid.UUID, providerName string) (*models.PayoutMethod, error) {
	var method models.PayoutMethod
	err := r.db.GetContext(ctx, &method, `
		SELECT * FROM payout_methods
		WHERE user_id = $1 AND provider = $2
		ORDER BY is_default DESC, created_at DESC
		LIMIT 1
	`, userID, providerName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPayoutMethodNotFound
		}
		return nil, err
	}
	return &method, nil
}

// ListByUser возвращает все методы выплат пользователя.
func (r *PayoutMethodRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PayoutMethod, error) {
	var methods []models.PayoutMethod
	err := r.db.SelectContext(ctx, &methods, `
		SELECT * FROM payout_methods WHERE user_id = $1 ORDER BY is_default DESC, created_at DESC
	`, userID)
	return methods, err
}

// SetDefault делает метод дефолтным для своего провайдера.
func (r *PayoutMethodRepository) SetDefault(ctx context.Context, userID, methodID uuid.UUID) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var method models.PayoutMethod
		err := tx.GetContext(ctx, &method, `SELECT * FROM payout_methods WHERE id = $1 AND user_id = $2`, methodID, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPayoutMethodNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payout_methods SET is_default = FALSE WHERE user_id = $1 AND provider = $2
		`, userID, method.Provider); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE payout_methods SET is_default = TRUE WHERE id = $1`, methodID)
		return err
	})
}

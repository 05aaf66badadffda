package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrEscrowNotFound        = errors.New("escrow not found")
	ErrEscrowExists          = errors.New("escrow already exists for project")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrEscrowLocked          = errors.New("escrow is locked due to dispute")
	ErrReleaseAlreadyPending = errors.New("payout already pending")
	ErrInsufficientBalance   = errors.New("insufficient escrow balance")
	ErrInvalidTransition     = errors.New("invalid escrow status transition")
	ErrEscrowNotDisputed     = errors.New("escrow is not disputed")
	// ErrBalanceInvariant недостижима при работающих guard-ах; срабатывание
	// означает дефект и обрывает операцию без записи.
	ErrBalanceInvariant = errors.New("escrow balance would go negative")
)

// EscrowRepository — транзакционное хранилище escrow и платёжного реестра.
// Каждый мутирующий метод берёт блокировку строки escrow (FOR UPDATE) на всё
// время проверки guard-ов и записи: это единственная точка сериализации.
type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// ReleaseOutcome — результат финализации или компенсации выплаты,
// возвращается реконсилятору для ответа и уведомлений.
type ReleaseOutcome struct {
	Escrow     *models.Escrow
	Release    *models.Payment
	Commission *models.Payment
}

// CreateWithFunding создаёт escrow вместе с pending-записью о пополнении.
// Вызывается после того, как провайдер принял charge: откат транзакции
// гарантирует, что escrow без платёжной попытки не существует.
func (r *EscrowRepository) CreateWithFunding(ctx context.Context, escrow *models.Escrow, funding *models.Payment) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, escrow, `
			INSERT INTO escrow_transactions (project_id, funded_amount, current_balance, commission_amount, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		`, escrow.ProjectID, escrow.FundedAmount, escrow.CurrentBalance, escrow.CommissionAmount, models.EscrowStatusPendingFunding)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return ErrEscrowExists
			}
			return fmt.Errorf("escrow repository: create escrow: %w", err)
		}

		err = tx.GetContext(ctx, funding, `
			INSERT INTO payments (escrow_id, user_id, amount, provider, provider_reference, transaction_type, status, milestone_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *
		`, escrow.ID, funding.UserID, funding.Amount, funding.Provider, funding.ProviderReference,
			models.PaymentTypeFunding, models.PaymentStatusPending, funding.MilestoneID)
		if err != nil {
			return fmt.Errorf("escrow repository: create funding payment: %w", err)
		}
		return nil
	})
}

// MarkFunded атомарно завершает funding-запись и переводит escrow в funded.
// Повторный вызов для уже завершённой записи безопасен (идемпотентность
// verify и вебхука обеспечивается на этом уровне).
func (r *EscrowRepository) MarkFunded(ctx context.Context, provider, providerReference string) (*models.Escrow, error) {
	var escrow models.Escrow
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var payment models.Payment
		err := tx.GetContext(ctx, &payment, `
			SELECT * FROM payments
			WHERE provider = $1 AND provider_reference = $2 AND transaction_type = $3
			FOR UPDATE
		`, provider, providerReference, models.PaymentTypeFunding)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return err
		}

		if err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE id = $1 FOR UPDATE`, payment.EscrowID); err != nil {
			return err
		}

		if payment.Status == models.PaymentStatusCompleted && escrow.Status != models.EscrowStatusPendingFunding {
			return nil
		}
		if !models.CanTransition(escrow.Status, models.EscrowStatusFunded) {
			return ErrInvalidTransition
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = $2, completed_at = $3 WHERE id = $1`,
			payment.ID, models.PaymentStatusCompleted, now); err != nil {
			return err
		}

		// Сумма берётся из подтверждённой записи, а не из запроса клиента.
		err = tx.GetContext(ctx, &escrow, `
			UPDATE escrow_transactions
			SET funded_amount = $2, current_balance = $2, status = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		`, escrow.ID, payment.Amount, models.EscrowStatusFunded)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// FailFunding помечает funding-запись как failed по уведомлению провайдера.
// Escrow остаётся в pending_funding: клиент может инициировать новую попытку.
func (r *EscrowRepository) FailFunding(ctx context.Context, provider, providerReference string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var payment models.Payment
		err := tx.GetContext(ctx, &payment, `
			SELECT * FROM payments
			WHERE provider = $1 AND provider_reference = $2 AND transaction_type = $3
			FOR UPDATE
		`, provider, providerReference, models.PaymentTypeFunding)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return err
		}
		if !payment.IsOpen() {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`,
			payment.ID, models.PaymentStatusFailed)
		return err
	})
}

// BeginRelease под блокировкой строки escrow перепроверяет guard-ы выплаты и
// создаёт пару pending-записей release+commission с общим correlation id.
// Провайдерский перевод уже принят к этому моменту; баланс не списывается
// до подтверждения вебхуком.
func (r *EscrowRepository) BeginRelease(ctx context.Context, escrowID uuid.UUID, payout, commission *models.Payment) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var escrow models.Escrow
		err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE id = $1 FOR UPDATE`, escrowID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEscrowNotFound
			}
			return err
		}

		if escrow.IsLocked {
			return ErrEscrowLocked
		}
		if !models.CanTransition(escrow.Status, models.EscrowStatusReleasePending) {
			return ErrInvalidTransition
		}

		// Перепроверка под блокировкой: два конкурентных release не могут
		// оба пройти — второй увидит pending-запись первого.
		var open int
		if payout.MilestoneID != nil {
			err = tx.GetContext(ctx, &open, `
				SELECT COUNT(*) FROM payments
				WHERE milestone_id = $1 AND transaction_type = $2 AND status IN ($3, $4)
			`, payout.MilestoneID, models.PaymentTypeRelease, models.PaymentStatusPending, models.PaymentStatusActive)
		} else {
			err = tx.GetContext(ctx, &open, `
				SELECT COUNT(*) FROM payments
				WHERE escrow_id = $1 AND transaction_type = $2 AND status IN ($3, $4)
			`, escrowID, models.PaymentTypeRelease, models.PaymentStatusPending, models.PaymentStatusActive)
		}
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrReleaseAlreadyPending
		}

		total := payout.Amount.Add(commission.Amount)
		if total.LessThanOrEqual(decimal.Zero) || total.GreaterThan(escrow.CurrentBalance) {
			return ErrInsufficientBalance
		}

		for _, p := range []*models.Payment{payout, commission} {
			err = tx.GetContext(ctx, p, `
				INSERT INTO payments (escrow_id, user_id, amount, provider, provider_reference, transaction_type, status, correlation_id, milestone_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING *
			`, escrowID, p.UserID, p.Amount, p.Provider, p.ProviderReference, p.TransactionType,
				models.PaymentStatusPending, p.CorrelationID, p.MilestoneID)
			if err != nil {
				return fmt.Errorf("escrow repository: create %s payment: %w", p.TransactionType, err)
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE escrow_transactions SET status = $2, updated_at = NOW() WHERE id = $1`,
			escrowID, models.EscrowStatusReleasePending)
		return err
	})
}

// CompleteTransfer финализирует пару release+commission по подтверждению
// перевода: обе записи completed, баланс уменьшается на их сумму, статус
// становится released либо partially_released, этап помечается оплаченным.
// Спор применению не мешает — деньги уже ушли; для disputed escrow итоговый
// статус пишется в status_before_dispute и вступает в силу при разрешении.
func (r *EscrowRepository) CompleteTransfer(ctx context.Context, providerName, transferRef string) (*ReleaseOutcome, error) {
	outcome := &ReleaseOutcome{}
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		release, commission, escrow, err := r.lockReleasePair(ctx, tx, providerName, transferRef)
		if err != nil {
			return err
		}
		outcome.Escrow, outcome.Release, outcome.Commission = escrow, release, commission

		if !release.IsOpen() {
			// Запись уже финализирована (вебхук-дубль прошёл дедуп по другому
			// event id) — ничего не меняем.
			return nil
		}

		total := release.Amount
		if commission != nil {
			total = total.Add(commission.Amount)
		}
		newBalance, newStatus, err := releaseSettlement(effectiveStatus(escrow), escrow.CurrentBalance, total)
		if err != nil {
			return err
		}

		now := time.Now()
		ids := []uuid.UUID{release.ID}
		if commission != nil {
			ids = append(ids, commission.ID)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = $2, completed_at = $3 WHERE id = $1`,
				id, models.PaymentStatusCompleted, now); err != nil {
				return err
			}
		}
		release.Status = models.PaymentStatusCompleted
		if commission != nil {
			commission.Status = models.PaymentStatusCompleted
		}

		if escrow.Status == models.EscrowStatusDisputed {
			// Перевод у провайдера уже состоялся: баланс фиксируем сейчас,
			// итоговый статус запоминаем до снятия блокировки спора.
			err = tx.GetContext(ctx, escrow, `
				UPDATE escrow_transactions SET current_balance = $2, status_before_dispute = $3, updated_at = NOW()
				WHERE id = $1
				RETURNING *
			`, escrow.ID, newBalance, newStatus)
		} else {
			err = tx.GetContext(ctx, escrow, `
				UPDATE escrow_transactions SET current_balance = $2, status = $3, updated_at = NOW()
				WHERE id = $1
				RETURNING *
			`, escrow.ID, newBalance, newStatus)
		}
		if err != nil {
			return err
		}

		if release.MilestoneID != nil {
			_, err = tx.ExecContext(ctx, `UPDATE milestones SET is_paid = TRUE WHERE id = $1`, release.MilestoneID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// FailTransfer компенсирует отклонённую выплату: release становится failed,
// парная комиссия cancelled, escrow возвращается в funded (для disputed —
// через status_before_dispute). Баланс не трогается, он не списывался при
// создании пары.
func (r *EscrowRepository) FailTransfer(ctx context.Context, providerName, transferRef string) (*ReleaseOutcome, error) {
	outcome := &ReleaseOutcome{}
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		release, commission, escrow, err := r.lockReleasePair(ctx, tx, providerName, transferRef)
		if err != nil {
			return err
		}
		outcome.Escrow, outcome.Release, outcome.Commission = escrow, release, commission

		if !release.IsOpen() {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`,
			release.ID, models.PaymentStatusFailed); err != nil {
			return err
		}
		release.Status = models.PaymentStatusFailed

		if commission != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`,
				commission.ID, models.PaymentStatusCancelled); err != nil {
				return err
			}
			commission.Status = models.PaymentStatusCancelled
		}

		if newStatus, changed := failedReleaseStatus(effectiveStatus(escrow)); changed {
			column := "status"
			if escrow.Status == models.EscrowStatusDisputed {
				// Спор идёт, снимать блокировку нельзя: откат статуса
				// записывается в статус до спора.
				column = "status_before_dispute"
			}
			err = tx.GetContext(ctx, escrow, `
				UPDATE escrow_transactions SET `+column+` = $2, updated_at = NOW() WHERE id = $1 RETURNING *
			`, escrow.ID, newStatus)
			if err != nil {
				return err
			}
		}

		// Если гонка успела пометить этап оплаченным, снимаем отметку.
		if release.MilestoneID != nil {
			_, err = tx.ExecContext(ctx, `UPDATE milestones SET is_paid = FALSE WHERE id = $1`, release.MilestoneID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ApplyRefund записывает подтверждённый провайдером возврат и уменьшает
// баланс; при обнулении баланса escrow становится refunded.
func (r *EscrowRepository) ApplyRefund(ctx context.Context, escrowID uuid.UUID, refund *models.Payment) (*models.Escrow, error) {
	var escrow models.Escrow
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE id = $1 FOR UPDATE`, escrowID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEscrowNotFound
			}
			return err
		}

		if escrow.IsLocked {
			return ErrEscrowLocked
		}
		newBalance, newStatus, err := refundSettlement(escrow.Status, escrow.CurrentBalance, refund.Amount)
		if err != nil {
			return err
		}

		now := time.Now()
		err = tx.GetContext(ctx, refund, `
			INSERT INTO payments (escrow_id, user_id, amount, provider, provider_reference, transaction_type, status, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *
		`, escrowID, refund.UserID, refund.Amount, refund.Provider, refund.ProviderReference,
			models.PaymentTypeRefund, models.PaymentStatusCompleted, now)
		if err != nil {
			return fmt.Errorf("escrow repository: create refund payment: %w", err)
		}

		err = tx.GetContext(ctx, &escrow, `
			UPDATE escrow_transactions SET current_balance = $2, status = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		`, escrowID, newBalance, newStatus)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// LockForDispute переводит escrow в disputed и запоминает прежний статус,
// чтобы восстановить его при разрешении спора.
func (r *EscrowRepository) LockForDispute(ctx context.Context, escrowID uuid.UUID) (*models.Escrow, error) {
	var escrow models.Escrow
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE id = $1 FOR UPDATE`, escrowID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEscrowNotFound
			}
			return err
		}

		if !models.CanDispute(escrow.Status) {
			return ErrInvalidTransition
		}

		err = tx.GetContext(ctx, &escrow, `
			UPDATE escrow_transactions
			SET status_before_dispute = status, status = $2, is_locked = TRUE, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		`, escrowID, models.EscrowStatusDisputed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// ResolveDispute снимает блокировку и возвращает escrow в статус, который
// был до открытия спора.
func (r *EscrowRepository) ResolveDispute(ctx context.Context, escrowID uuid.UUID) (*models.Escrow, error) {
	var escrow models.Escrow
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE id = $1 FOR UPDATE`, escrowID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEscrowNotFound
			}
			return err
		}

		if escrow.Status != models.EscrowStatusDisputed {
			return ErrEscrowNotDisputed
		}

		restored := models.EscrowStatusFunded
		if escrow.StatusBeforeDispute != nil {
			restored = *escrow.StatusBeforeDispute
		}

		err = tx.GetContext(ctx, &escrow, `
			UPDATE escrow_transactions
			SET status = $2, status_before_dispute = NULL, is_locked = FALSE, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		`, escrowID, restored)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// GetByID возвращает escrow по идентификатору.
func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return common.GetByID[models.Escrow](ctx, r.db, "escrow_transactions", id, ErrEscrowNotFound)
}

// GetByProjectID возвращает escrow проекта.
func (r *EscrowRepository) GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Escrow, error) {
	return common.GetByField[models.Escrow](ctx, r.db, "escrow_transactions", "project_id", projectID, ErrEscrowNotFound)
}

// ListByUser возвращает escrow, где пользователь — сторона проекта.
func (r *EscrowRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Escrow, error) {
	var escrows []models.Escrow
	err := r.db.SelectContext(ctx, &escrows, `
		SELECT e.* FROM escrow_transactions e
		JOIN projects p ON p.id = e.project_id
		WHERE p.client_id = $1 OR p.freelancer_id = $1
		ORDER BY e.created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return escrows, err
}

// lockReleasePair блокирует release-запись по референсу перевода, её escrow
// и парную комиссию по correlation id.
func (r *EscrowRepository) lockReleasePair(ctx context.Context, tx *sqlx.Tx, providerName, transferRef string) (*models.Payment, *models.Payment, *models.Escrow, error) {
	var release models.Payment
	err := tx.GetContext(ctx, &release, `
		SELECT * FROM payments
		WHERE provider = $1 AND provider_reference = $2 AND transaction_type = $3
		FOR UPDATE
	`, providerName, transferRef, models.PaymentTypeRelease)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, ErrPaymentNotFound
		}
		return nil, nil, nil, err
	}

	var escrow models.Escrow
	if err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE id = $1 FOR UPDATE`, release.EscrowID); err != nil {
		return nil, nil, nil, err
	}

	var commission *models.Payment
	if release.CorrelationID != nil {
		var c models.Payment
		err = tx.GetContext(ctx, &c, `
			SELECT * FROM payments
			WHERE correlation_id = $1 AND transaction_type = $2 AND id <> $3
			FOR UPDATE
		`, release.CorrelationID, models.PaymentTypeCommission, release.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, err
		}
		if err == nil {
			commission = &c
		}
	}

	return &release, commission, &escrow, nil
}

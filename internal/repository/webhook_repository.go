package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// WebhookRepository хранит записи дедупликации провайдерских уведомлений.
type WebhookRepository struct {
	db *sqlx.DB
}

func NewWebhookRepository(db *sqlx.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// MarkSeen вставляет пару (provider, event_id); возвращает false, если
// событие уже встречалось. Единственная защита от at-least-once доставки.
func (r *WebhookRepository) MarkSeen(ctx context.Context, provider, eventID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Annotate прикрепляет к событию заметку для ручного разбора оператором.
// Запись дедупликации при этом сохраняется: событие не будет переобработано.
func (r *WebhookRepository) Annotate(ctx context.Context, provider, eventID, note string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET note = $3 WHERE provider = $1 AND event_id = $2
	`, provider, eventID, note)
	return err
}

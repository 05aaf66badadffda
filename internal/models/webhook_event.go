package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent — запись дедупликации провайдерских уведомлений.
// Пара (provider, event_id) уникальна: повторная доставка того же события
// обнаруживается по конфликту вставки и не обрабатывается второй раз.
type WebhookEvent struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Provider   string    `db:"provider" json:"provider"`
	EventID    string    `db:"event_id" json:"event_id"`
	Note       *string   `db:"note" json:"note,omitempty"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

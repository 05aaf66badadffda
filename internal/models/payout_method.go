package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutMethod — сохранённые реквизиты фрилансера для вывода средств.
// При выборе метода действует задокументированный порядок:
// is_default DESC, created_at DESC.
type PayoutMethod struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	Provider      string    `db:"provider" json:"provider"`
	AccountName   string    `db:"account_name" json:"account_name"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	BankCode      *string   `db:"bank_code" json:"bank_code,omitempty"`
	IsDefault     bool      `db:"is_default" json:"is_default"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

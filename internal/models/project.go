package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы проектов
const (
	ProjectStatusPending   = "pending"
	ProjectStatusActive    = "active"
	ProjectStatusCompleted = "completed"
	ProjectStatusDisputed  = "disputed"
	ProjectStatusCancelled = "cancelled"
)

// Статусы этапов
const (
	MilestoneStatusPending   = "pending"
	MilestoneStatusSubmitted = "submitted"
	MilestoneStatusApproved  = "approved"
	MilestoneStatusRejected  = "rejected"
)

// Project — проект между клиентом и фрилансером. Для платёжного ядра это
// внешняя сущность: ядро читает стороны сделки и никогда её не меняет.
type Project struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ClientID     uuid.UUID       `db:"client_id" json:"client_id"`
	FreelancerID uuid.UUID       `db:"freelancer_id" json:"freelancer_id"`
	Title        string          `db:"title" json:"title"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Status       string          `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Milestone — этап проекта. Ядро читает его для гейтинга выплат и
// помечает оплаченным после подтверждения перевода.
type Milestone struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	ProjectID uuid.UUID       `db:"project_id" json:"project_id"`
	Title     string          `db:"title" json:"title"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    string          `db:"status" json:"status"`
	IsPaid    bool            `db:"is_paid" json:"is_paid"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Releasable сообщает, допускает ли этап выплату по нему.
func (m *Milestone) Releasable() bool {
	if m.IsPaid {
		return false
	}
	return m.Status == MilestoneStatusApproved || m.Status == MilestoneStatusSubmitted
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// Статусы обработки вебхука.
const (
	WebhookStatusProcessed = "processed"
	WebhookStatusDuplicate = "duplicate"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusError     = "error"
)

// ReconcilerLedger — операции реестра, доступные реконсилятору.
// Только он переводит записи из pending в терминальные статусы.
type ReconcilerLedger interface {
	MarkFunded(ctx context.Context, providerName, providerReference string) (*models.Escrow, error)
	FailFunding(ctx context.Context, providerName, providerReference string) error
	CompleteTransfer(ctx context.Context, providerName, transferRef string) (*repository.ReleaseOutcome, error)
	FailTransfer(ctx context.Context, providerName, transferRef string) (*repository.ReleaseOutcome, error)
}

// WebhookStore — таблица дедупликации уведомлений.
type WebhookStore interface {
	MarkSeen(ctx context.Context, providerName, eventID string) (bool, error)
	Annotate(ctx context.Context, providerName, eventID, note string) error
}

// EscrowNotifier доставляет сторонам сделки уведомление о событии escrow.
type EscrowNotifier interface {
	NotifyEscrowEvent(userID uuid.UUID, event string, data any)
}

// WebhookService — реконсилятор: идемпотентно финализирует или компенсирует
// pending-записи реестра по асинхронным подтверждениям провайдеров.
type WebhookService struct {
	escrows   ReconcilerLedger
	webhooks  WebhookStore
	projects  ProjectReader
	providers ProviderRegistry
	notifier  EscrowNotifier
}

func NewWebhookService(escrows ReconcilerLedger, webhooks WebhookStore, projects ProjectReader, providers ProviderRegistry) *WebhookService {
	return &WebhookService{
		escrows:   escrows,
		webhooks:  webhooks,
		projects:  projects,
		providers: providers,
	}
}

// SetNotifier подключает доставку уведомлений (опционально).
func (s *WebhookService) SetNotifier(n EscrowNotifier) {
	s.notifier = n
}

// WebhookResult — итог обработки одного уведомления.
type WebhookResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleProviderEvent — единственная точка входа реконсилятора.
// Порядок фиксирован: подпись → классификация → дедуп → диспетчеризация.
// Каждая диспетчеризация выполняется в одной транзакции с блокировкой
// строки escrow; запись дедупликации остаётся даже при ошибке сверки,
// чтобы не устраивать шторм переобработки.
func (s *WebhookService) HandleProviderEvent(ctx context.Context, providerName string, payload []byte, signature string) (*WebhookResult, error) {
	prov, err := s.providers.Get(providerName)
	if err != nil {
		return &WebhookResult{Status: WebhookStatusIgnored, Message: "неизвестный провайдер"}, nil
	}

	if !prov.ValidateWebhook(payload, signature) {
		logger.Log.WithField("provider", providerName).Warn("webhook: невалидная подпись, событие отброшено")
		return &WebhookResult{Status: WebhookStatusIgnored, Message: "невалидная подпись"}, nil
	}

	event, err := prov.ParseWebhook(payload)
	if err != nil {
		return &WebhookResult{Status: WebhookStatusError, Message: "нечитаемое событие"}, err
	}

	inserted, err := s.webhooks.MarkSeen(ctx, providerName, event.ID)
	if err != nil {
		return &WebhookResult{Status: WebhookStatusError, Message: "не удалось зафиксировать событие"}, err
	}
	if !inserted {
		return &WebhookResult{Status: WebhookStatusDuplicate, Message: "событие уже обработано"}, nil
	}

	log := logger.Log.WithFields(logrus.Fields{
		"provider":  providerName,
		"event_id":  event.ID,
		"kind":      event.Kind,
		"reference": event.Reference,
	})

	switch event.Kind {
	case provider.EventFundingConfirmed:
		escrow, err := s.escrows.MarkFunded(ctx, providerName, event.Reference)
		if err != nil {
			return s.reconciliationFailure(ctx, providerName, event, err)
		}
		log.WithField("escrow_id", escrow.ID).Info("webhook: пополнение подтверждено")
		s.notifyParties(ctx, escrow, "escrow.funded")

	case provider.EventFundingFailed:
		if err := s.escrows.FailFunding(ctx, providerName, event.Reference); err != nil {
			return s.reconciliationFailure(ctx, providerName, event, err)
		}
		log.Info("webhook: пополнение не прошло")

	case provider.EventTransferConfirmed:
		outcome, err := s.escrows.CompleteTransfer(ctx, providerName, event.Reference)
		if err != nil {
			return s.reconciliationFailure(ctx, providerName, event, err)
		}
		log.WithFields(logrus.Fields{
			"escrow_id": outcome.Escrow.ID,
			"balance":   outcome.Escrow.CurrentBalance.String(),
			"status":    outcome.Escrow.Status,
		}).Info("webhook: выплата подтверждена")
		s.notifyParties(ctx, outcome.Escrow, "escrow.release_completed")

	case provider.EventTransferFailed:
		outcome, err := s.escrows.FailTransfer(ctx, providerName, event.Reference)
		if err != nil {
			return s.reconciliationFailure(ctx, providerName, event, err)
		}
		log.WithField("escrow_id", outcome.Escrow.ID).Warn("webhook: выплата отклонена, записи компенсированы")
		s.notifyParties(ctx, outcome.Escrow, "escrow.release_failed")

	default:
		log.Info("webhook: событие не относится к реестру")
		return &WebhookResult{Status: WebhookStatusIgnored, Message: "событие не классифицировано"}, nil
	}

	return &WebhookResult{Status: WebhookStatusProcessed}, nil
}

// reconciliationFailure фиксирует несведённое событие для оператора.
// Запись дедупликации уже создана и сохраняется: однажды доставленное
// несведённое событие — потеря данных для ручного разбора, не повод
// для бесконечных повторов. Поэтому каждая ошибка диспетчеризации
// оставляет заметку — без неё событие пропало бы молча.
func (s *WebhookService) reconciliationFailure(ctx context.Context, providerName string, event *provider.Event, cause error) (*WebhookResult, error) {
	var note string
	reconciliation := true
	switch {
	case errors.Is(cause, repository.ErrPaymentNotFound):
		note = fmt.Sprintf("запись по референсу %s не найдена", event.Reference)
	case errors.Is(cause, repository.ErrInvalidTransition):
		note = fmt.Sprintf("событие %s несовместимо со статусом escrow", event.Kind)
	case errors.Is(cause, repository.ErrBalanceInvariant):
		note = fmt.Sprintf("событие %s нарушило бы баланс escrow", event.Kind)
	default:
		note = "ошибка сверки: " + cause.Error()
		reconciliation = false
	}

	if err := s.webhooks.Annotate(ctx, providerName, event.ID, note); err != nil {
		logger.Log.WithField("event_id", event.ID).Errorf("webhook: не удалось сохранить заметку: %v", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"provider":  providerName,
		"event_id":  event.ID,
		"reference": event.Reference,
		"note":      note,
	}).Error("webhook: событие не сведено, требуется оператор")

	if reconciliation {
		return &WebhookResult{Status: WebhookStatusError, Message: note},
			apperror.Wrap(cause, apperror.ErrCodeReconciliation, note)
	}
	return &WebhookResult{Status: WebhookStatusError, Message: note}, mapLedgerError(cause)
}

// notifyParties отправляет сторонам проекта уведомление о событии escrow.
func (s *WebhookService) notifyParties(ctx context.Context, escrow *models.Escrow, event string) {
	if s.notifier == nil {
		return
	}
	project, err := s.projects.GetByID(ctx, escrow.ProjectID)
	if err != nil {
		logger.Log.WithField("escrow_id", escrow.ID).Warnf("webhook: не удалось найти проект для уведомления: %v", err)
		return
	}
	payload := map[string]any{
		"escrow_id": escrow.ID,
		"status":    escrow.Status,
		"balance":   escrow.CurrentBalance,
	}
	goroutine.SafeGo(func() {
		s.notifier.NotifyEscrowEvent(project.ClientID, event, payload)
		s.notifier.NotifyEscrowEvent(project.FreelancerID, event, payload)
	})
}

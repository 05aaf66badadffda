package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// Лимит тела вебхука. Провайдеры шлют небольшие JSON-события.
const maxWebhookBody = 64 * 1024

// WebhookHandler принимает асинхронные уведомления провайдеров.
// Endpoint публичный: аутентификацией служит подпись тела.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Handle POST /api/webhooks/:provider
// Всегда отвечает 200 на принятые события, включая дубликаты и
// отброшенные: провайдеру незачем повторять доставку.
func (h *WebhookHandler) Handle(c *gin.Context) {
	providerName := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	signature := c.GetHeader("Chapa-Signature")
	if signature == "" {
		signature = c.GetHeader("Stripe-Signature")
	}
	if signature == "" {
		signature = c.GetHeader("X-Webhook-Signature")
	}

	result, err := h.webhooks.HandleProviderEvent(c.Request.Context(), providerName, payload, signature)
	if err != nil {
		// Несведённое событие уже зафиксировано для оператора;
		// провайдеру отвечаем кодом таксономии.
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// PaymentHandler обслуживает пополнение escrow.
type PaymentHandler struct {
	funding *service.FundingService
}

func NewPaymentHandler(funding *service.FundingService) *PaymentHandler {
	return &PaymentHandler{funding: funding}
}

// InitiateFunding POST /api/payments/funding/initiate
func (h *PaymentHandler) InitiateFunding(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		ProjectID string `json:"project_id" binding:"required"`
		Amount    string `json:"amount" binding:"required"`
		Provider  string `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "project_id, amount и provider обязательны")
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		common.RespondBadRequest(c, "неверный project_id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		common.RespondBadRequest(c, "неверный формат суммы")
		return
	}

	result, err := h.funding.InitiateFunding(c.Request.Context(), userID, projectID, amount, req.Provider)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// VerifyFunding POST /api/payments/funding/verify
// Синхронная сверка статуса charge по tx_ref: дополняет вебхук,
// когда фронтенд возвращается с checkout-страницы раньше уведомления.
func (h *PaymentHandler) VerifyFunding(c *gin.Context) {
	var req struct {
		Reference string `json:"tx_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "tx_ref обязателен")
		return
	}

	result, err := h.funding.VerifyFunding(c.Request.Context(), req.Reference)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

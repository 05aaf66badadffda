package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// EscrowHandler обслуживает операции над escrow: выплату, возврат,
// заморозку по спору и читающую поверхность.
type EscrowHandler struct {
	escrows  *service.EscrowService
	releases *service.ReleaseService
	refunds  *service.RefundService
	disputes *service.DisputeService
}

func NewEscrowHandler(escrows *service.EscrowService, releases *service.ReleaseService, refunds *service.RefundService, disputes *service.DisputeService) *EscrowHandler {
	return &EscrowHandler{
		escrows:  escrows,
		releases: releases,
		refunds:  refunds,
		disputes: disputes,
	}
}

// Get GET /api/escrow/:id
func (h *EscrowHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	escrowID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	details, err := h.escrows.GetWithPayments(c.Request.Context(), escrowID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// List GET /api/escrow
func (h *EscrowHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	escrows, err := h.escrows.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrows": escrows})
}

// GetByProject GET /api/projects/:id/escrow
func (h *EscrowHandler) GetByProject(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	escrow, err := h.escrows.GetByProject(c.Request.Context(), projectID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, escrow)
}

// Release POST /api/escrow/:id/release
func (h *EscrowHandler) Release(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	escrowID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	// Сумма и этап опциональны: без них выплачивается весь баланс.
	var req struct {
		Amount      *string `json:"amount,omitempty"`
		MilestoneID *string `json:"milestone_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		common.RespondBadRequest(c, "некорректное тело запроса")
		return
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		parsed, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			common.RespondBadRequest(c, "неверный формат суммы")
			return
		}
		amount = &parsed
	}
	var milestoneID *uuid.UUID
	if req.MilestoneID != nil {
		parsed, err := uuid.Parse(*req.MilestoneID)
		if err != nil {
			common.RespondBadRequest(c, "неверный milestone_id")
			return
		}
		milestoneID = &parsed
	}

	result, err := h.releases.ReleaseFunds(c.Request.Context(), userID, escrowID, amount, milestoneID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// Refund POST /api/escrow/:id/refund
func (h *EscrowHandler) Refund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	escrowID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Amount *string `json:"amount,omitempty"`
		Reason string  `json:"reason,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		common.RespondBadRequest(c, "некорректное тело запроса")
		return
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		parsed, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			common.RespondBadRequest(c, "неверный формат суммы")
			return
		}
		amount = &parsed
	}

	result, err := h.refunds.Refund(c.Request.Context(), userID, escrowID, amount, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Lock POST /api/escrow/:id/lock
func (h *EscrowHandler) Lock(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	escrowID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	escrow, err := h.disputes.LockEscrow(c.Request.Context(), escrowID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, escrow)
}

// Unlock POST /api/escrow/:id/unlock
func (h *EscrowHandler) Unlock(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	escrowID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	escrow, err := h.disputes.ResolveDispute(c.Request.Context(), escrowID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, escrow)
}

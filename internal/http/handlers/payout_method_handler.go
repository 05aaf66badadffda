package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// PayoutMethodHandler обслуживает реквизиты выплат фрилансера.
type PayoutMethodHandler struct {
	methods   *service.PayoutMethodService
	providers *provider.Registry
}

func NewPayoutMethodHandler(methods *service.PayoutMethodService, providers *provider.Registry) *PayoutMethodHandler {
	return &PayoutMethodHandler{methods: methods, providers: providers}
}

// Create POST /api/payout-methods
func (h *PayoutMethodHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var input service.CreateMethodInput
	if err := c.ShouldBindJSON(&input); err != nil {
		common.RespondBadRequest(c, "provider, account_name и account_number обязательны")
		return
	}

	method, err := h.methods.Create(c.Request.Context(), userID, input)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, method)
}

// List GET /api/payout-methods
func (h *PayoutMethodHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	methods, err := h.methods.List(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout_methods": methods})
}

// SetDefault POST /api/payout-methods/:id/default
func (h *PayoutMethodHandler) SetDefault(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	methodID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.methods.SetDefault(c.Request.Context(), userID, methodID); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "метод выплат сделан основным"})
}

// GetBanks GET /api/banks
// Список банков для выплат отдаёт Chapa; у Stripe банки не выбираются.
func (h *PayoutMethodHandler) GetBanks(c *gin.Context) {
	name := c.DefaultQuery("provider", "chapa")
	prov, err := h.providers.Get(name)
	if err != nil {
		common.RespondBadRequest(c, "неизвестный платёжный провайдер")
		return
	}

	chapa, ok := prov.(*provider.ChapaProvider)
	if !ok {
		common.RespondBadRequest(c, "провайдер не предоставляет список банков")
		return
	}

	banks, err := chapa.GetBanks(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"banks": banks})
}

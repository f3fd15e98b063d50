package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// PaymentHandler обслуживает платёжные намерения и подтверждение оплаты.
type PaymentHandler struct {
	payments *service.PaymentService
	settings service.SettingsProvider
}

// NewPaymentHandler создаёт новый хэндлер.
func NewPaymentHandler(payments *service.PaymentService, settings service.SettingsProvider) *PaymentHandler {
	return &PaymentHandler{payments: payments, settings: settings}
}

// CreateIntent обрабатывает POST /api/payments/intents.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req dto.CreateIntentRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), service.CreateIntentInput{
		GigID:      req.GigID,
		BuyerID:    userID,
		PackageID:  req.PackageID,
		Milestones: toPlanItems(req.Milestones),
	})
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	common.RespondJSON(c, http.StatusCreated, intent)
}

// Confirm обрабатывает POST /api/payments/confirm. Вызов идемпотентен:
// повторное подтверждение того же reference возвращает созданный заказ.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmPaymentRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.payments.Confirm(c.Request.Context(), req.Reference)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// Webhook обрабатывает POST /api/payments/webhook — колбэк шлюза.
// Формат тела тот же, что у Confirm; различаются только вызывающие.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	h.Confirm(c)
}

func (h *PaymentHandler) respondOrder(c *gin.Context, status int, order *models.Order) {
	threshold := h.settings.Snapshot(c.Request.Context()).EnhancedProtectionPrice
	common.RespondJSON(c, status, dto.NewOrderResponse(order, threshold))
}

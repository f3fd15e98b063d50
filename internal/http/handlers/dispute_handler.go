package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// DisputeHandler обслуживает материалы и разрешение споров.
// Открытие спора живёт в EscrowHandler: это переход самой сделки.
type DisputeHandler struct {
	disputes *service.DisputeService
	settings service.SettingsProvider
}

// NewDisputeHandler создаёт новый хэндлер.
func NewDisputeHandler(disputes *service.DisputeService, settings service.SettingsProvider) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, settings: settings}
}

// AddEvidence обрабатывает POST /api/escrow/orders/:id/dispute/evidence.
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req dto.DisputeEvidenceRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.disputes.AddEvidence(c.Request.Context(), orderID, userID, req.Note, req.FileKey)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// StartReview обрабатывает POST /api/admin/disputes/:id/review.
func (h *DisputeHandler) StartReview(c *gin.Context) {
	role, err := common.CurrentUserRole(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.disputes.StartReview(c.Request.Context(), orderID, role)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// Resolve обрабатывает POST /api/admin/disputes/:id/resolve.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	role, err := common.CurrentUserRole(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req dto.ResolveDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.disputes.Resolve(c.Request.Context(), orderID, role, service.ResolveInput{
		Outcome:      req.Outcome,
		RefundAmount: req.RefundAmount,
		Note:         req.Note,
	})
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

func (h *DisputeHandler) respondOrder(c *gin.Context, status int, order *models.Order) {
	threshold := h.settings.Snapshot(c.Request.Context()).EnhancedProtectionPrice
	common.RespondJSON(c, status, dto.NewOrderResponse(order, threshold))
}

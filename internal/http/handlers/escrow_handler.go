package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// EscrowHandler обслуживает жизненный цикл сделки: просмотр, сдачу,
// приёмку, доработки и открытие спора.
type EscrowHandler struct {
	escrow   *service.EscrowService
	settings service.SettingsProvider
}

// NewEscrowHandler создаёт новый хэндлер.
func NewEscrowHandler(escrow *service.EscrowService, settings service.SettingsProvider) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, settings: settings}
}

// Get обрабатывает GET /api/escrow/orders/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	role, _ := common.CurrentUserRole(c)
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.escrow.Get(c.Request.Context(), orderID, userID, role)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// ListMy обрабатывает GET /api/escrow/orders/my.
func (h *EscrowHandler) ListMy(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	asBuyer, asSeller, err := h.escrow.ListMy(c.Request.Context(), userID)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	threshold := h.settings.Snapshot(c.Request.Context()).EnhancedProtectionPrice
	resp := dto.MyOrdersResponse{
		AsBuyer:  make([]dto.OrderResponse, 0, len(asBuyer)),
		AsSeller: make([]dto.OrderResponse, 0, len(asSeller)),
	}
	for i := range asBuyer {
		resp.AsBuyer = append(resp.AsBuyer, dto.NewOrderResponse(&asBuyer[i], threshold))
	}
	for i := range asSeller {
		resp.AsSeller = append(resp.AsSeller, dto.NewOrderResponse(&asSeller[i], threshold))
	}
	common.RespondJSON(c, http.StatusOK, resp)
}

// SubmitWork обрабатывает POST /api/escrow/orders/:id/submit.
func (h *EscrowHandler) SubmitWork(c *gin.Context) {
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

	var req dto.SubmitWorkRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.escrow.SubmitWork(c.Request.Context(), orderID, userID, toDeliverableInputs(req.Deliverables))
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// ResetSubmission обрабатывает POST /api/escrow/orders/:id/reset.
// Аварийный выход для зависшей сдачи без файлов.
func (h *EscrowHandler) ResetSubmission(c *gin.Context) {
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

	order, err := h.escrow.ResetForResubmission(c.Request.Context(), orderID, userID)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// ApproveWork обрабатывает POST /api/escrow/orders/:id/approve.
func (h *EscrowHandler) ApproveWork(c *gin.Context) {
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

	order, err := h.escrow.ApproveWork(c.Request.Context(), orderID, userID)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// RequestRevision обрабатывает POST /api/escrow/orders/:id/revision.
func (h *EscrowHandler) RequestRevision(c *gin.Context) {
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

	var req dto.RevisionRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.escrow.RequestRevision(c.Request.Context(), orderID, userID, req.Reason, req.Details)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// OpenDispute обрабатывает POST /api/escrow/orders/:id/dispute.
func (h *EscrowHandler) OpenDispute(c *gin.Context) {
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

	var req dto.OpenDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.escrow.InitiateDispute(c.Request.Context(), orderID, userID, req.Reason, req.Details)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

func (h *EscrowHandler) respondOrder(c *gin.Context, status int, order *models.Order) {
	threshold := h.settings.Snapshot(c.Request.Context()).EnhancedProtectionPrice
	common.RespondJSON(c, status, dto.NewOrderResponse(order, threshold))
}

func toDeliverableInputs(entries []dto.DeliverableEntry) []service.DeliverableInput {
	out := make([]service.DeliverableInput, 0, len(entries))
	for _, e := range entries {
		out = append(out, service.DeliverableInput{
			FileName:    e.FileName,
			FileSize:    e.FileSize,
			PreviewKey:  e.PreviewKey,
			FinalKey:    e.FinalKey,
			Description: e.Description,
		})
	}
	return out
}

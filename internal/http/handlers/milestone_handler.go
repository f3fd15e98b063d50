package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// MilestoneHandler обслуживает этапный путь сделки.
type MilestoneHandler struct {
	milestones *service.MilestoneService
	settings   service.SettingsProvider
}

// NewMilestoneHandler создаёт новый хэндлер.
func NewMilestoneHandler(milestones *service.MilestoneService, settings service.SettingsProvider) *MilestoneHandler {
	return &MilestoneHandler{milestones: milestones, settings: settings}
}

// Create обрабатывает POST /api/escrow/orders/:id/milestones.
func (h *MilestoneHandler) Create(c *gin.Context) {
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

	var req dto.CreateMilestonesRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.milestones.CreateMilestones(c.Request.Context(), orderID, userID, toPlanItems(req.Milestones))
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusCreated, order)
}

// Submit обрабатывает POST /api/escrow/orders/:id/milestones/:position/submit.
func (h *MilestoneHandler) Submit(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	orderID, position, ok := h.pathParams(c)
	if !ok {
		return
	}

	var req dto.SubmitWorkRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.milestones.SubmitMilestone(c.Request.Context(), orderID, userID, position, toDeliverableInputs(req.Deliverables))
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// Approve обрабатывает POST /api/escrow/orders/:id/milestones/:position/approve.
func (h *MilestoneHandler) Approve(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	orderID, position, ok := h.pathParams(c)
	if !ok {
		return
	}

	var req dto.ApproveMilestoneRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	order, err := h.milestones.ApproveMilestone(c.Request.Context(), orderID, userID, position, req.Feedback)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

// RequestRevision обрабатывает POST /api/escrow/orders/:id/milestones/:position/revision.
func (h *MilestoneHandler) RequestRevision(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	orderID, position, ok := h.pathParams(c)
	if !ok {
		return
	}

	var req dto.RevisionRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.milestones.RequestMilestoneRevision(c.Request.Context(), orderID, userID, position, req.Reason, req.Details)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	h.respondOrder(c, http.StatusOK, order)
}

func (h *MilestoneHandler) pathParams(c *gin.Context) (orderID uuid.UUID, position int, ok bool) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return orderID, 0, false
	}
	position, err = strconv.Atoi(c.Param("position"))
	if err != nil || position < 1 {
		common.RespondError(c, http.StatusBadRequest, "позиция этапа должна быть положительным числом")
		return orderID, 0, false
	}
	return orderID, position, true
}

func (h *MilestoneHandler) respondOrder(c *gin.Context, status int, order *models.Order) {
	threshold := h.settings.Snapshot(c.Request.Context()).EnhancedProtectionPrice
	common.RespondJSON(c, status, dto.NewOrderResponse(order, threshold))
}

func toPlanItems(entries []dto.MilestonePlanEntry) []models.MilestonePlanItem {
	out := make([]models.MilestonePlanItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.MilestonePlanItem{
			Title:       e.Title,
			Description: e.Description,
			Amount:      e.Amount,
			DueDate:     e.DueDate,
		})
	}
	return out
}

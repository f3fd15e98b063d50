package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// AdminHandler — операции оператора платформы.
type AdminHandler struct {
	sweep *service.SweepService
}

// NewAdminHandler создаёт новый хэндлер.
func NewAdminHandler(sweep *service.SweepService) *AdminHandler {
	return &AdminHandler{sweep: sweep}
}

// Sweep обрабатывает POST /api/admin/escrow/sweep — ручной запуск прохода
// автовыплаты. Обычно проход запускает планировщик воркера.
func (h *AdminHandler) Sweep(c *gin.Context) {
	released, err := h.sweep.Sweep(c.Request.Context())
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	common.RespondJSON(c, http.StatusOK, dto.SweepResponse{Released: released})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/storage"
)

// DeliverableHandler выдаёт доступ к файлам работы и принимает загрузки
// артефактов. Превью загружается уже деградированным: генерация превью —
// внешняя подсистема.
type DeliverableHandler struct {
	access  *service.AccessService
	storage *storage.ArtifactStorage
}

// NewDeliverableHandler создаёт новый хэндлер.
func NewDeliverableHandler(access *service.AccessService, st *storage.ArtifactStorage) *DeliverableHandler {
	return &DeliverableHandler{access: access, storage: st}
}

// Resolve обрабатывает GET /api/escrow/orders/:id/deliverables/:deliverableId/:class.
func (h *DeliverableHandler) Resolve(c *gin.Context) {
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
	deliverableID, err := common.ParseUUIDParam(c, "deliverableId")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := h.access.Resolve(c.Request.Context(), orderID, userID, role, deliverableID, c.Param("class"))
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	common.RespondJSON(c, http.StatusOK, grant)
}

// Upload обрабатывает POST /api/escrow/uploads?class=preview|final&order_id=...
// Multipart форма с полем "file". Возвращает ключ объекта для сдачи.
func (h *DeliverableHandler) Upload(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	class := c.Query("class")
	if class != storage.ClassPreview && class != storage.ClassFinal {
		common.RespondError(c, http.StatusBadRequest, "параметр class должен быть preview или final")
		return
	}
	orderID, err := common.ParseUUIDQuery(c, "order_id")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, "файл обязателен")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, "не удалось открыть файл")
		return
	}
	defer f.Close()

	key, size, err := h.storage.Upload(c.Request.Context(), class, orderID, fileHeader.Filename, f)
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	common.RespondJSON(c, http.StatusCreated, dto.UploadResponse{
		Key:      key,
		Size:     size,
		Class:    class,
		FileName: fileHeader.Filename,
	})
}

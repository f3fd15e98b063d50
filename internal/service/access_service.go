package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// ArtifactURLProvider выдаёт ссылки на артефакты сдач: превью лежит в
// публичной корзине, оригинал доступен только по подписанной ссылке.
type ArtifactURLProvider interface {
	PreviewURL(key string) string
	PresignFinal(ctx context.Context, key string) (string, error)
}

// AccessService — шлюз доступа к файлам работы. Право на оригинал
// выводится из состояния сделки и никогда не хранится отдельно.
type AccessService struct {
	orders  OrderStore
	storage ArtifactURLProvider
}

// NewAccessService создаёт новый сервис.
func NewAccessService(orders OrderStore, storage ArtifactURLProvider) *AccessService {
	return &AccessService{orders: orders, storage: storage}
}

// AccessGrant — результат проверки доступа: выданная ссылка и класс файла.
type AccessGrant struct {
	DeliverableID uuid.UUID `json:"deliverable_id"`
	FileClass     string    `json:"file_class"`
	FileName      string    `json:"file_name"`
	URL           string    `json:"url"`
}

// Resolve проверяет право пользователя на файл и выдаёт ссылку.
// Превью открыто обеим сторонам сделки; оригинал продавец видит всегда,
// покупатель — только после приёмки владеющей единицы. Посторонним
// отказ без раскрытия существования файла.
func (s *AccessService) Resolve(ctx context.Context, orderID, userID uuid.UUID, role string, deliverableID uuid.UUID, fileClass string) (*AccessGrant, error) {
	if _, ok := models.ValidFileClasses[fileClass]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный класс файла")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateMutateErr(err)
	}
	if !order.IsParty(userID) && role != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	d := order.DeliverableByID(deliverableID)
	if d == nil {
		return nil, apperror.ErrDeliverableNotFound
	}

	if fileClass == models.FileClassPreview {
		return &AccessGrant{
			DeliverableID: d.ID,
			FileClass:     models.FileClassPreview,
			FileName:      d.FileName,
			URL:           s.storage.PreviewURL(d.PreviewKey),
		}, nil
	}

	// Оригинал: продавец и оператор всегда, покупатель — после приёмки.
	buyerGranted := false
	switch {
	case userID == order.SellerID || role == models.RoleAdmin:
	case d.AccessLevel == models.AccessLevelFullAccess:
		buyerGranted = true
	default:
		return nil, apperror.ErrForbidden
	}

	url, err := s.storage.PresignFinal(ctx, d.FinalKey)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeUpstream, "хранилище файлов недоступно")
	}

	if buyerGranted {
		// Учёт выдач лучших усилий: сбой счётчика не отменяет доступ.
		if err := s.orders.RegisterDownload(ctx, d.ID); err != nil {
			logger.Log.WithField("deliverable_id", d.ID).WithError(err).Warn("не удалось учесть выдачу файла")
		}
	}

	return &AccessGrant{
		DeliverableID: d.ID,
		FileClass:     models.FileClassFinal,
		FileName:      d.FileName,
		URL:           url,
	}, nil
}

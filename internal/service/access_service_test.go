package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// fakeStorage выдаёт предсказуемые ссылки без обращения к S3.
type fakeStorage struct {
	presignErr error
}

func (f *fakeStorage) PreviewURL(key string) string {
	return "http://cdn.local/preview/" + key
}

func (f *fakeStorage) PresignFinal(ctx context.Context, key string) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return fmt.Sprintf("http://s3.local/final/%s?signature=abc", key), nil
}

// orderWithDeliverable — заказ на приёмке с одной сдачей.
func orderWithDeliverable(buyerID, sellerID uuid.UUID, accessLevel string) *models.Order {
	order := fundedOrder(buyerID, sellerID)
	order.EscrowStatus = models.EscrowStatusWorkSubmitted
	order.Deliverables = []models.Deliverable{{
		ID:             uuid.New(),
		FileName:       "layout.psd",
		FileSize:       2048,
		PreviewKey:     "preview-" + uuid.NewString(),
		FinalKey:       "final-" + uuid.NewString(),
		AccessLevel:    accessLevel,
		RevisionNumber: 1,
		UploadedBy:     sellerID,
	}}
	return order
}

func TestAccessService_PreviewOpenToParties(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewAccessService(store, &fakeStorage{})
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := store.seed(orderWithDeliverable(buyerID, sellerID, models.AccessLevelPreviewOnly))
	d := order.Deliverables[0]

	for _, userID := range []uuid.UUID{buyerID, sellerID} {
		grant, err := svc.Resolve(ctx, order.ID, userID, models.RoleClient, d.ID, models.FileClassPreview)
		require.NoError(t, err)
		assert.Equal(t, models.FileClassPreview, grant.FileClass)
		assert.Contains(t, grant.URL, d.PreviewKey)
	}
}

func TestAccessService_OutsiderDenied(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewAccessService(store, &fakeStorage{})
	ctx := context.Background()

	order := store.seed(orderWithDeliverable(uuid.New(), uuid.New(), models.AccessLevelPreviewOnly))
	d := order.Deliverables[0]

	// Посторонний не видит даже превью.
	_, err := svc.Resolve(ctx, order.ID, uuid.New(), models.RoleClient, d.ID, models.FileClassPreview)
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.Resolve(ctx, order.ID, uuid.New(), models.RoleFreelancer, d.ID, models.FileClassFinal)
	assert.True(t, apperror.IsForbidden(err))
}

func TestAccessService_BuyerFinalGatedByApproval(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewAccessService(store, &fakeStorage{})
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := store.seed(orderWithDeliverable(buyerID, sellerID, models.AccessLevelPreviewOnly))
	d := order.Deliverables[0]

	// До приёмки оригинал покупателю закрыт.
	_, err := svc.Resolve(ctx, order.ID, buyerID, models.RoleClient, d.ID, models.FileClassFinal)
	assert.True(t, apperror.IsForbidden(err))

	// После приёмки — открыт, и выдача учитывается.
	approved := store.seed(orderWithDeliverable(buyerID, sellerID, models.AccessLevelFullAccess))
	ad := approved.Deliverables[0]

	grant, err := svc.Resolve(ctx, approved.ID, buyerID, models.RoleClient, ad.ID, models.FileClassFinal)
	require.NoError(t, err)
	assert.Contains(t, grant.URL, ad.FinalKey)

	current, err := store.GetByID(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Deliverables[0].DownloadCount)
}

func TestAccessService_SellerAndAdminAlwaysSeeFinal(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewAccessService(store, &fakeStorage{})
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := store.seed(orderWithDeliverable(buyerID, sellerID, models.AccessLevelPreviewOnly))
	d := order.Deliverables[0]

	_, err := svc.Resolve(ctx, order.ID, sellerID, models.RoleFreelancer, d.ID, models.FileClassFinal)
	require.NoError(t, err)

	// Оператор не сторона сделки, но видит оригинал.
	_, err = svc.Resolve(ctx, order.ID, uuid.New(), models.RoleAdmin, d.ID, models.FileClassFinal)
	require.NoError(t, err)

	// Доступ продавца и оператора не учитывается как выдача покупателю.
	current, err := store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.Deliverables[0].DownloadCount)
}

func TestAccessService_ValidationAndUpstream(t *testing.T) {
	store := newFakeOrderStore()
	storage := &fakeStorage{}
	svc := NewAccessService(store, storage)
	ctx := context.Background()

	buyerID := uuid.New()
	order := store.seed(orderWithDeliverable(buyerID, uuid.New(), models.AccessLevelFullAccess))
	d := order.Deliverables[0]

	// Неизвестный класс файла.
	_, err := svc.Resolve(ctx, order.ID, buyerID, models.RoleClient, d.ID, "thumbnail")
	assert.True(t, apperror.IsValidation(err))

	// Несуществующая сдача.
	_, err = svc.Resolve(ctx, order.ID, buyerID, models.RoleClient, uuid.New(), models.FileClassFinal)
	assert.True(t, apperror.IsNotFound(err))

	// Несуществующий заказ.
	_, err = svc.Resolve(ctx, uuid.New(), buyerID, models.RoleClient, d.ID, models.FileClassPreview)
	assert.True(t, apperror.IsNotFound(err))

	// Сбой подписи ссылки — ошибка внешней системы, можно повторить.
	storage.presignErr = errors.New("minio: connection refused")
	_, err = svc.Resolve(ctx, order.ID, buyerID, models.RoleClient, d.ID, models.FileClassFinal)
	assert.True(t, apperror.IsUpstream(err))
}

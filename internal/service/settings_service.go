package service

import (
	"context"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
)

// SettingsStore читает строку платформенных политик.
type SettingsStore interface {
	Get(ctx context.Context) (*models.Settings, error)
}

// SettingsService отдаёт снимок политик escrow. Хранилище настроек —
// внешняя подсистема; при любой её недоступности действуют значения
// по умолчанию, движок не останавливается.
type SettingsService struct {
	store SettingsStore
}

// NewSettingsService создаёт новый сервис.
func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Snapshot возвращает текущие политики либо значения по умолчанию.
func (s *SettingsService) Snapshot(ctx context.Context) models.Settings {
	settings, err := s.store.Get(ctx)
	if err != nil {
		logger.Log.WithError(err).Warn("настройки платформы недоступны, действуют значения по умолчанию")
		return models.DefaultSettings()
	}
	return *settings
}

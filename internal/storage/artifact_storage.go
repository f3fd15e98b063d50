// Package storage — объектное хранилище артефактов сдач. Превью лежат в
// публичной корзине и отдаются прямой ссылкой, оригиналы — в закрытой
// и выдаются только подписанными ссылками с коротким сроком жизни.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// FileClass хранилища: публичное превью либо закрытый оригинал.
const (
	ClassPreview = "preview"
	ClassFinal   = "final"
)

// ArtifactStorage — обёртка над MinIO/S3 для файлов работы.
type ArtifactStorage struct {
	client         *minio.Client
	previewBucket  string
	finalBucket    string
	region         string
	presignTTL     time.Duration
	maxUploadBytes int64
	publicBaseURL  string
}

// Config — параметры подключения к хранилищу.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Region        string
	PreviewBucket string
	FinalBucket   string
	PresignTTL    time.Duration
	MaxUploadMB   int64
}

// New создаёт клиент хранилища.
func New(cfg Config) (*ArtifactStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось создать клиент minio: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &ArtifactStorage{
		client:         client,
		previewBucket:  cfg.PreviewBucket,
		finalBucket:    cfg.FinalBucket,
		region:         cfg.Region,
		presignTTL:     cfg.PresignTTL,
		maxUploadBytes: cfg.MaxUploadMB * 1024 * 1024,
		publicBaseURL:  fmt.Sprintf("%s://%s", scheme, cfg.Endpoint),
	}, nil
}

// EnsureBuckets создаёт корзины при первом запуске.
func (s *ArtifactStorage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.previewBucket, s.finalBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("storage: проверка корзины %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("storage: создание корзины %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Upload сохраняет артефакт указанного класса и возвращает ключ объекта.
// Тип содержимого определяется по сигнатуре файла, а не по расширению.
func (s *ArtifactStorage) Upload(ctx context.Context, class string, orderID uuid.UUID, fileName string, r io.Reader) (string, int64, error) {
	bucket, err := s.bucketFor(class)
	if err != nil {
		return "", 0, err
	}

	limited := io.LimitedReader{R: r, N: s.maxUploadBytes + 1}
	data, err := io.ReadAll(&limited)
	if err != nil {
		return "", 0, fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return "", 0, fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxUploadBytes)
	}
	if len(data) == 0 {
		return "", 0, fmt.Errorf("storage: пустой файл")
	}

	contentType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}

	key := fmt.Sprintf("%s/%d_%s", orderID.String(), time.Now().UnixNano(), fileName)
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", 0, fmt.Errorf("storage: загрузка объекта: %w", err)
	}
	return key, int64(len(data)), nil
}

// PreviewURL возвращает прямую ссылку на превью в публичной корзине.
func (s *ArtifactStorage) PreviewURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.previewBucket, key)
}

// PresignFinal выдаёт подписанную ссылку на оригинал.
func (s *ArtifactStorage) PresignFinal(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.finalBucket, key, s.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: не удалось подписать ссылку: %w", err)
	}
	return u.String(), nil
}

func (s *ArtifactStorage) bucketFor(class string) (string, error) {
	switch class {
	case ClassPreview:
		return s.previewBucket, nil
	case ClassFinal:
		return s.finalBucket, nil
	default:
		return "", fmt.Errorf("storage: неизвестный класс файла %q", class)
	}
}

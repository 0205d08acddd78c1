package storage

import (
	"context"
	"io"
)

// UploadResult — итог загрузки. В базе хранится только Key; публичный
// адрес собирается через GetPublicURL, чтобы смена CDN не трогала данные.
type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader абстрагирует объектное хранилище аватаров (команд и
// пользователей). Боевая реализация — Cloudflare R2 поверх S3 API;
// в конфигурации без R2 сервисы получают nil и отвечают, что загрузки
// отключены.
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	// GetPublicURL строит адрес объекта по ключу, без обращения к хранилищу.
	GetPublicURL(key string) string
}

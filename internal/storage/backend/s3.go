package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config — параметры подключения к S3-совместимому хранилищу.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3 — файлы в S3-совместимом хранилище (MinIO).
// fileRef — base64 ключа объекта в бакете.
type S3 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3 создаёт S3 backend и проверяет доступность бакета.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки бакета %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("бакет %s не существует", cfg.Bucket)
	}

	return &S3{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "backend_s3")),
	}, nil
}

// resolveKey декодирует fileRef в ключ объекта.
func (s *S3) resolveKey(fileRef string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(fileRef)
	if err != nil {
		s.logger.Warn("Некорректная ссылка на объект",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	key := path.Clean(string(raw))
	if key == "" || key == "." || key == ".." || path.IsAbs(key) {
		s.logger.Warn("Некорректный ключ объекта",
			slog.String("key", key),
		)
		return "", fmt.Errorf("%w: ключ %q", ErrInvalidRef, key)
	}
	return key, nil
}

// Open открывает объект для чтения.
func (s *S3) Open(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	key, err := s.resolveKey(fileRef)
	if err != nil {
		return nil, err
	}
	// StatObject до GetObject: GetObject ленивый, ошибка отсутствия
	// объекта иначе всплывёт только при первом чтении.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка StatObject %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка GetObject %s: %w", key, err)
	}
	return obj, nil
}

// Size возвращает размер объекта в байтах.
func (s *S3) Size(ctx context.Context, fileRef string) (int64, error) {
	key, err := s.resolveKey(fileRef)
	if err != nil {
		return 0, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка StatObject %s: %w", key, err)
	}
	return info.Size, nil
}

// isNoSuchKey распознаёт ошибку отсутствия объекта в ответе S3.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

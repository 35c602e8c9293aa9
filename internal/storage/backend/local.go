package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Local — файлы на локальной файловой системе под единым корнем.
// fileRef — base64 относительного пути внутри корня. Путь
// разрешается при каждом обращении и никогда не выходит за корень:
// абсолютные пути и выход через ".." отклоняются.
type Local struct {
	root   string
	logger *slog.Logger
}

// NewLocal создаёт локальный backend с корнем root.
func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("корень файлов недоступен %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("корень файлов %s не является директорией", root)
	}
	return &Local{
		root:   root,
		logger: logger.With(slog.String("component", "backend_local")),
	}, nil
}

// resolve декодирует fileRef и возвращает абсолютный путь внутри корня.
func (l *Local) resolve(fileRef string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(fileRef)
	if err != nil {
		l.logger.Warn("Некорректная ссылка на файл",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	rel := filepath.Clean(string(raw))
	if rel == "" || rel == "." || !filepath.IsLocal(rel) {
		l.logger.Warn("Ссылка на файл выходит за пределы корня",
			slog.String("path", rel),
		)
		return "", fmt.Errorf("%w: путь %q выходит за пределы корня", ErrInvalidRef, rel)
	}
	return filepath.Join(l.root, rel), nil
}

// Open открывает файл для чтения.
func (l *Local) Open(_ context.Context, fileRef string) (io.ReadCloser, error) {
	path, err := l.resolve(fileRef)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка stat файла: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Size возвращает размер файла в байтах.
func (l *Local) Size(_ context.Context, fileRef string) (int64, error) {
	path, err := l.resolve(fileRef)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка stat файла: %w", err)
	}
	return info.Size(), nil
}

// EncodeRef кодирует относительный путь в fileRef.
// Используется при создании ссылки и в тестах.
func EncodeRef(relPath string) string {
	return base64.StdEncoding.EncodeToString([]byte(relPath))
}

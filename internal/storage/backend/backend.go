// Пакет backend — доступ к файлам, на которые указывают ссылки.
// Сервис ссылок не владеет файлами: он только читает их из внешнего
// хранилища в момент скачивания. Поддерживаются локальная файловая
// система и S3-совместимое хранилище (MinIO).
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound — файл отсутствует в хранилище.
var ErrNotFound = errors.New("файл не найден в хранилище")

// ErrInvalidRef — ссылка на файл некорректна (не декодируется
// или выходит за пределы корня).
var ErrInvalidRef = errors.New("некорректная ссылка на файл")

// Backend — источник файлов для отдачи по ссылке.
// fileRef — base64-идентификатор файла из записи ссылки,
// разрешается в путь только в момент скачивания.
type Backend interface {
	// Open открывает файл для чтения. Вызывающий код обязан
	// закрыть ReadCloser.
	Open(ctx context.Context, fileRef string) (io.ReadCloser, error)
	// Size возвращает актуальный размер файла в байтах.
	Size(ctx context.Context, fileRef string) (int64, error)
}

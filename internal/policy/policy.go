// Пакет policy — валидация клиентских параметров создания ссылки
// против серверных allow-list'ов. Чистые функции без I/O: решение
// о логировании предупреждений принимает вызывающий слой.
package policy

import (
	"errors"
	"fmt"

	"github.com/bigkaa/publink/internal/domain/model"
)

// MaxDownloadsCeiling — жёсткий потолок лимита скачиваний по умолчанию.
const MaxDownloadsCeiling = 1000

// ErrInvalidLinkType — недопустимое значение типа ссылки.
var ErrInvalidLinkType = errors.New("недопустимый тип ссылки")

// DefaultExpirations — allow-list сроков жизни ссылки в минутах.
// Первый элемент — значение-заменитель для вариантов вне списка.
var DefaultExpirations = []int{30, 60, 120, 180, 360, 720, 1440, 2160, 2880}

// DefaultWaits — allow-list задержек перед скачиванием в секундах.
var DefaultWaits = []int{0, 10, 30, 60, 120, 300}

// Expiration валидирует запрошенный срок жизни в минутах.
// Значение вне allow-list молча заменяется первым элементом списка —
// документированный fallback на безопасное значение, не ошибка.
func Expiration(requested int, allowed []int) int {
	return pickAllowed(requested, allowed)
}

// Wait валидирует запрошенную задержку в секундах.
// Политика идентична Expiration: вне списка → первый элемент.
func Wait(requested int, allowed []int) int {
	return pickAllowed(requested, allowed)
}

// pickAllowed возвращает requested, если оно точно присутствует
// в allowed, и первый элемент allowed в противном случае.
func pickAllowed(requested int, allowed []int) int {
	for _, v := range allowed {
		if v == requested {
			return requested
		}
	}
	return allowed[0]
}

// LinkType валидирует тип ссылки. Пустое значение — public
// (совместимость со старыми клиентами), всё прочее кроме public
// и registered отклоняется.
func LinkType(value string) (model.LinkType, error) {
	if value == "" {
		return model.LinkPublic, nil
	}
	lt := model.LinkType(value)
	if !lt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLinkType, value)
	}
	return lt, nil
}

// ClampMaxDownloads нормализует лимит скачиваний: отрицательные
// значения становятся 0 (без лимита), значения выше потолка
// обрезаются до потолка. Второй результат — true, если значение
// было обрезано сверху (вызывающий слой логирует предупреждение).
func ClampMaxDownloads(value, ceiling int) (int, bool) {
	if ceiling <= 0 {
		ceiling = MaxDownloadsCeiling
	}
	if value < 0 {
		return 0, false
	}
	if value > ceiling {
		return ceiling, true
	}
	return value, false
}

// Пакет token — генерация и чеканка токенов публичных ссылок.
//
// Кандидат — 32 байта из crypto/rand в hex (64 символа, 256 бит
// энтропии). Чеканка — retry-цикл create-if-absent против хранилища:
// коллизия токена астрономически маловероятна, но обрабатывается,
// а не предполагается невозможной. Цикл ограничен, чтобы не зависнуть
// при патологическом поведении генератора.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bigkaa/publink/internal/domain/model"
	"github.com/bigkaa/publink/internal/storage/linkstore"
)

// DefaultMaxAttempts — лимит попыток чеканки по умолчанию.
const DefaultMaxAttempts = 10

// tokenBytes — размер токена в байтах до hex-кодирования.
const tokenBytes = 32

// ErrExhausted — лимит попыток чеканки исчерпан.
// Фатальна для запроса; вызывающий код не повторяет чеканку сам.
var ErrExhausted = errors.New("исчерпан лимит попыток генерации уникального токена")

// Creator — часть контракта хранилища, нужная минтеру.
type Creator interface {
	Create(rec *model.LinkRecord) error
}

// Generator порождает кандидатов токенов. Подменяется в тестах
// для моделирования коллизий.
type Generator func() (string, error)

// NewCandidate — генератор по умолчанию: 32 случайных байта в hex.
func NewCandidate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка чтения crypto/rand: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Mint чеканит уникальный токен: генерирует кандидата, заполняет
// rec.Token и пытается создать запись. На linkstore.ErrAlreadyExists
// повторяет с новым кандидатом, до maxAttempts раз. Любая другая
// ошибка хранилища прерывает чеканку немедленно.
func Mint(store Creator, gen Generator, rec *model.LinkRecord, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if gen == nil {
		gen = NewCandidate
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := gen()
		if err != nil {
			return "", err
		}

		rec.Token = candidate
		err = store.Create(rec)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, linkstore.ErrAlreadyExists) {
			continue
		}
		return "", err
	}

	return "", ErrExhausted
}

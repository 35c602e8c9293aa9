// Пакет session — привязка отметок ожидания к сессии посетителя.
// Сервис не хранит состояние в БД, поэтому отметки "страница ссылки
// показана в момент T" живут в in-memory LRU с TTL. Обёртка над
// hashicorp/golang-lru/v2/expirable.
package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CookieName — cookie с идентификатором сессии посетителя.
const CookieName = "pl_session"

// WaitStore хранит момент показа страницы ссылки для пары
// (сессия, токен). Повторный показ перезаписывает отметку —
// отсчёт ожидания начинается заново.
type WaitStore struct {
	markers *expirable.LRU[string, time.Time]
}

// NewWaitStore создаёт хранилище отметок.
// maxSize — максимальное количество отметок в памяти.
// ttl — время жизни отметки после установки; должно превышать
// максимальную разрешённую задержку скачивания.
func NewWaitStore(maxSize int, ttl time.Duration) *WaitStore {
	return &WaitStore{
		markers: expirable.NewLRU[string, time.Time](maxSize, nil, ttl),
	}
}

// Mark фиксирует показ страницы ссылки token сессии sessionID.
func (w *WaitStore) Mark(sessionID, token string, shownAt time.Time) {
	w.markers.Add(sessionID+":"+token, shownAt)
}

// ShownAt возвращает момент показа страницы ссылки token сессии
// sessionID. Второй результат false — страница не показывалась
// (или отметка истекла по TTL).
func (w *WaitStore) ShownAt(sessionID, token string) (time.Time, bool) {
	return w.markers.Get(sessionID + ":" + token)
}

// EnsureSession возвращает идентификатор сессии из cookie запроса.
// Если cookie отсутствует или пуст, генерирует новый UUID и
// устанавливает cookie в ответе.
func EnsureSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

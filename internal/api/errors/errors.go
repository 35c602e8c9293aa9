// Пакет errors — конструкторы стандартных ошибок API Publink.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все JSON-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeExpired         = "EXPIRED"
	CodeLimitReached    = "LIMIT_REACHED"
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeWaitNotElapsed  = "WAIT_NOT_ELAPSED"
	CodeFileMissing     = "FILE_MISSING"
	CodeTokenExhaustion = "TOKEN_EXHAUSTION"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Expired — 410 срок жизни ссылки истёк.
func Expired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeExpired, message)
}

// LimitReached — 410 лимит скачиваний исчерпан.
func LimitReached(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLimitReached, message)
}

// AuthRequired — 401 ссылка только для аутентифицированных.
func AuthRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeAuthRequired, message)
}

// WaitNotElapsed — 429 задержка перед скачиванием не истекла.
// retryAfter — оставшиеся секунды, попадает в заголовок Retry-After.
func WaitNotElapsed(w http.ResponseWriter, message string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	WriteError(w, http.StatusTooManyRequests, CodeWaitNotElapsed, message)
}

// FileMissing — 404 файл исчез из хранилища при живой записи.
func FileMissing(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeFileMissing, message)
}

// TokenExhaustion — 503 не удалось выдать уникальный токен.
func TokenExhaustion(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeTokenExhaustion, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// links.go — HTTP handlers управления ссылками Publink.
// Create, List, Delete, Options.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/publink/internal/api/errors"
	"github.com/bigkaa/publink/internal/api/middleware"
	"github.com/bigkaa/publink/internal/domain/model"
	"github.com/bigkaa/publink/internal/service"
	"github.com/bigkaa/publink/internal/token"
)

// LinksHandler — обработчик endpoints управления ссылками.
type LinksHandler struct {
	registry *service.Registry
	logger   *slog.Logger
}

// NewLinksHandler создаёт обработчик endpoints управления ссылками.
func NewLinksHandler(registry *service.Registry, logger *slog.Logger) *LinksHandler {
	return &LinksHandler{
		registry: registry,
		logger:   logger.With(slog.String("component", "links_handler")),
	}
}

// createLinkRequest — тело запроса POST /api/v1/links.
type createLinkRequest struct {
	FileRef           string `json:"file_ref"`
	RootPath          string `json:"root_path,omitempty"`
	FileName          string `json:"file_name"`
	FileSize          int64  `json:"file_size"`
	LinkType          string `json:"link_type,omitempty"`
	ExpirationMinutes int    `json:"expiration_minutes"`
	WaitSeconds       int    `json:"wait_seconds"`
	MaxDownloads      int    `json:"max_downloads"`
	AutoDelete        *bool  `json:"auto_delete_on_expiry,omitempty"`
}

// linkResponse — представление записи ссылки в ответах API.
type linkResponse struct {
	Token              string     `json:"token"`
	URL                string     `json:"url"`
	OwnerID            string     `json:"owner_id"`
	OwnerName          string     `json:"owner_name,omitempty"`
	FileName           string     `json:"file_name"`
	FileSize           int64      `json:"file_size"`
	LinkType           string     `json:"link_type"`
	WaitSeconds        int        `json:"wait_seconds"`
	MaxDownloads       int        `json:"max_downloads"`
	DownloadCount      int        `json:"download_count"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	LastDownloadAt     *time.Time `json:"last_download_at,omitempty"`
	AutoDeleteOnExpiry bool       `json:"auto_delete_on_expiry"`
	IsExpired          bool       `json:"is_expired"`
}

// toLinkResponse формирует представление записи для ответа.
// FileRef и RootPath наружу не отдаются: локатор файла — внутренняя деталь.
func toLinkResponse(rec *model.LinkRecord, isExpired bool) linkResponse {
	return linkResponse{
		Token:              rec.Token,
		URL:                "/d/" + rec.Token,
		OwnerID:            rec.OwnerID,
		OwnerName:          rec.OwnerName,
		FileName:           rec.FileName,
		FileSize:           rec.FileSize,
		LinkType:           string(rec.LinkType),
		WaitSeconds:        rec.WaitSeconds,
		MaxDownloads:       rec.MaxDownloads,
		DownloadCount:      rec.DownloadCount,
		CreatedAt:          rec.CreatedAt,
		ExpiresAt:          rec.ExpiresAt,
		LastDownloadAt:     rec.LastDownloadAt,
		AutoDeleteOnExpiry: rec.AutoDeleteOnExpiry,
		IsExpired:          isExpired,
	}
}

// ownerFromRequest извлекает идентичность владельца из JWT контекста.
func ownerFromRequest(r *http.Request) service.Owner {
	return service.Owner{
		ID:   middleware.SubjectFromContext(r.Context()),
		Name: middleware.NameFromContext(r.Context()),
	}
}

// CreateLink обрабатывает POST /api/v1/links.
func (h *LinksHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromRequest(r)
	if owner.ID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора JSON: %s", err.Error()))
		return
	}

	rec, err := h.registry.CreateLink(owner, service.CreateRequest{
		FileRef:           req.FileRef,
		RootPath:          req.RootPath,
		FileName:          req.FileName,
		FileSize:          req.FileSize,
		LinkType:          req.LinkType,
		ExpirationMinutes: req.ExpirationMinutes,
		WaitSeconds:       req.WaitSeconds,
		MaxDownloads:      req.MaxDownloads,
		AutoDelete:        req.AutoDelete,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			apierrors.ValidationError(w, err.Error())
		case errors.Is(err, token.ErrExhausted):
			apierrors.TokenExhaustion(w, "Не удалось выдать уникальный токен, повторите позже")
		default:
			h.logger.Error("создание ссылки", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
		}
		return
	}

	h.logger.Info("ссылка создана",
		slog.String("token", rec.Token),
		slog.String("owner_id", owner.ID),
		slog.String("file_name", rec.FileName))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toLinkResponse(rec, false))
}

// ListLinks обрабатывает GET /api/v1/links.
// Возвращает только ссылки вызывающего пользователя.
func (h *LinksHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromRequest(r)
	if owner.ID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	links, err := h.registry.ListLinks(owner)
	if err != nil {
		h.logger.Error("получение списка ссылок", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	items := make([]linkResponse, 0, len(links))
	for _, l := range links {
		items = append(items, toLinkResponse(l.LinkRecord, l.IsExpired))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"links": items,
		"total": len(items),
	})
}

// DeleteLink обрабатывает DELETE /api/v1/links/{token}.
func (h *LinksHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromRequest(r)
	if owner.ID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	tok := chi.URLParam(r, "token")
	if err := h.registry.DeleteLink(owner, tok); err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Ссылка не найдена")
		case errors.Is(err, service.ErrPermissionDenied):
			apierrors.Forbidden(w, "Ссылка принадлежит другому владельцу")
		default:
			h.logger.Error("удаление ссылки", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
		}
		return
	}

	h.logger.Info("ссылка удалена",
		slog.String("token", tok),
		slog.String("owner_id", owner.ID))

	w.WriteHeader(http.StatusNoContent)
}

// GetOptions обрабатывает GET /api/v1/links/options.
// Отдаёт allow-list'ы и умолчания для заполнения клиентской формы.
func (h *LinksHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	opts := h.registry.Options()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"expiration_minutes":    opts.Expirations,
		"wait_seconds":          opts.Waits,
		"max_downloads_ceiling": opts.MaxDownloadsCeiling,
		"auto_delete_default":   opts.AutoDeleteDefault,
		"link_types":            []string{string(model.LinkPublic), string(model.LinkRegistered)},
	})
}

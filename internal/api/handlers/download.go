// download.go — публичный endpoint выдачи файлов Publink.
// GET /d/{token}?action=view|download.
package handlers

import (
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/publink/internal/api/errors"
	"github.com/bigkaa/publink/internal/api/middleware"
	"github.com/bigkaa/publink/internal/service"
	"github.com/bigkaa/publink/internal/session"
)

// downloadChunkSize — размер блока при потоковой отдаче файла.
const downloadChunkSize = 8 * 1024

// statusPageTemplate — страница статуса ссылки с обратным отсчётом.
// После истечения задержки кнопка скачивания становится активной.
var statusPageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="utf-8">
<title>Скачивание файла</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 4em auto; padding: 0 1em; }
.file { font-size: 1.2em; font-weight: bold; }
.meta { color: #555; margin: 1em 0; }
a.btn { display: inline-block; padding: .6em 1.4em; background: #2a6fb0; color: #fff;
        text-decoration: none; border-radius: 4px; }
a.btn.disabled { background: #aaa; pointer-events: none; }
</style>
</head>
<body>
<p class="file">{{.FileName}}</p>
<p class="meta">Размер: {{.FileSizeHuman}}{{if .MaxDownloads}} · Скачиваний: {{.DownloadCount}} из {{.MaxDownloads}}{{end}}<br>
Ссылка действительна до {{.ExpiresAt.Format "02.01.2006 15:04"}} UTC</p>
{{if gt .WaitSeconds 0}}
<p id="countdown">Скачивание будет доступно через <span id="remaining">{{.WaitSeconds}}</span> с.</p>
<a class="btn disabled" id="download" href="{{.DownloadURL}}">Скачать</a>
<script>
(function () {
  var left = {{.WaitSeconds}};
  var span = document.getElementById("remaining");
  var btn = document.getElementById("download");
  var timer = setInterval(function () {
    left -= 1;
    if (left <= 0) {
      clearInterval(timer);
      document.getElementById("countdown").textContent = "Файл готов к скачиванию.";
      btn.classList.remove("disabled");
      return;
    }
    span.textContent = left;
  }, 1000);
})();
</script>
{{else}}
<a class="btn" href="{{.DownloadURL}}">Скачать</a>
{{end}}
</body>
</html>
`))

// errorPageTemplate — страница отказа для браузера.
var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 4em auto; padding: 0 1em; }
h1 { font-size: 1.3em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .LoginURL}}<p><a href="{{.LoginURL}}">Войти</a></p>{{end}}
</body>
</html>
`))

// statusPageData — данные страницы статуса.
type statusPageData struct {
	FileName      string
	FileSizeHuman string
	DownloadCount int
	MaxDownloads  int
	WaitSeconds   int
	ExpiresAt     time.Time
	DownloadURL   string
}

// errorPageData — данные страницы отказа.
type errorPageData struct {
	Title    string
	Message  string
	LoginURL string
}

// DownloadHandler — обработчик публичного endpoint /d/{token}.
type DownloadHandler struct {
	gate     *service.Gate
	loginURL string
	logger   *slog.Logger
}

// NewDownloadHandler создаёт обработчик публичного endpoint.
// loginURL показывается на странице отказа AuthRequired.
func NewDownloadHandler(gate *service.Gate, loginURL string, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		gate:     gate,
		loginURL: loginURL,
		logger:   logger.With(slog.String("component", "download_handler")),
	}
}

// Redeem обрабатывает GET /d/{token}.
// action=view (по умолчанию) — HTML страница статуса с отсчётом;
// action=download — потоковая отдача файла.
func (h *DownloadHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	sessionID := session.EnsureSession(w, r)
	authenticated := middleware.SubjectFromContext(r.Context()) != ""

	setNoCache(w)

	switch r.URL.Query().Get("action") {
	case "", "view":
		h.view(w, sessionID, tok, authenticated)
	case "download":
		h.download(w, r, sessionID, tok, authenticated)
	default:
		apierrors.ValidationError(w, "Недопустимое значение action, допустимые: view, download")
	}
}

// view отдаёт HTML страницу статуса и помечает начало ожидания.
func (h *DownloadHandler) view(w http.ResponseWriter, sessionID, tok string, authenticated bool) {
	status, rej := h.gate.View(sessionID, tok, authenticated)
	if rej != nil {
		h.renderRejectionPage(w, rej)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = statusPageTemplate.Execute(w, statusPageData{
		FileName:      status.FileName,
		FileSizeHuman: humanSize(status.FileSize),
		DownloadCount: status.DownloadCount,
		MaxDownloads:  status.MaxDownloads,
		WaitSeconds:   status.WaitSeconds,
		ExpiresAt:     status.ExpiresAt,
		DownloadURL:   "/d/" + status.Token + "?action=download",
	})
}

// download отдаёт файл потоком и фиксирует скачивание после успешной отдачи.
func (h *DownloadHandler) download(w http.ResponseWriter, r *http.Request, sessionID, tok string, authenticated bool) {
	stream, rej := h.gate.Download(r.Context(), sessionID, tok, authenticated)
	if rej != nil {
		h.writeRejection(w, rej)
		return
	}
	defer stream.Reader.Close()
	rec := stream.Record

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", rec.FileName))
	// Актуальный размер с backend, не размер из записи: файл мог
	// измениться после создания ссылки.
	if stream.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.Size, 10))
	}

	buf := make([]byte, downloadChunkSize)
	written, err := io.CopyBuffer(w, stream.Reader, buf)
	if err != nil {
		// Заголовки уже ушли клиенту, остаётся только залогировать обрыв
		h.logger.Warn("обрыв отдачи файла",
			slog.String("token", tok),
			slog.Int64("written", written),
			slog.String("error", err.Error()))
		return
	}

	h.gate.CompleteDownload(tok)

	h.logger.Info("файл отдан",
		slog.String("token", tok),
		slog.String("file_name", rec.FileName),
		slog.Int64("bytes", written))
}

// renderRejectionPage отдаёт HTML страницу отказа для action=view.
func (h *DownloadHandler) renderRejectionPage(w http.ResponseWriter, rej *service.Rejection) {
	status, data := h.rejectionPage(rej)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = errorPageTemplate.Execute(w, data)
}

// rejectionPage подбирает HTTP статус и текст страницы отказа.
func (h *DownloadHandler) rejectionPage(rej *service.Rejection) (int, errorPageData) {
	switch rej.Kind {
	case service.RejectExpired:
		return http.StatusGone, errorPageData{
			Title:   "Срок действия ссылки истёк",
			Message: "Запросите новую ссылку у отправителя файла.",
		}
	case service.RejectLimitReached:
		return http.StatusGone, errorPageData{
			Title:   "Лимит скачиваний исчерпан",
			Message: "Файл по этой ссылке больше недоступен.",
		}
	case service.RejectAuthRequired:
		return http.StatusUnauthorized, errorPageData{
			Title:    "Требуется вход",
			Message:  "Эта ссылка доступна только аутентифицированным пользователям.",
			LoginURL: h.loginURL,
		}
	case service.RejectFileMissing:
		return http.StatusNotFound, errorPageData{
			Title:   "Файл недоступен",
			Message: "Файл был удалён из хранилища.",
		}
	default:
		return http.StatusNotFound, errorPageData{
			Title:   "Ссылка не найдена",
			Message: "Проверьте правильность адреса ссылки.",
		}
	}
}

// writeRejection отдаёт JSON ошибку для action=download.
func (h *DownloadHandler) writeRejection(w http.ResponseWriter, rej *service.Rejection) {
	switch rej.Kind {
	case service.RejectExpired:
		apierrors.Expired(w, "Срок действия ссылки истёк")
	case service.RejectLimitReached:
		apierrors.LimitReached(w, "Лимит скачиваний исчерпан")
	case service.RejectAuthRequired:
		apierrors.AuthRequired(w, "Ссылка доступна только аутентифицированным пользователям")
	case service.RejectWaitNotElapsed:
		apierrors.WaitNotElapsed(w, "Задержка перед скачиванием ещё не истекла", rej.RetryAfter)
	case service.RejectFileMissing:
		apierrors.FileMissing(w, "Файл был удалён из хранилища")
	default:
		apierrors.NotFound(w, "Ссылка не найдена")
	}
}

// setNoCache запрещает кэширование ответов публичного endpoint:
// состояние ссылки меняется между запросами.
func setNoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// humanSize форматирует размер файла для страницы статуса.
func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d Б", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"КиБ", "МиБ", "ГиБ", "ТиБ"}
	return fmt.Sprintf("%.1f %s", float64(size)/float64(div), units[exp])
}

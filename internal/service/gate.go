// gate.go — шлюз выдачи файла по токену.
//
// Машина состояний одного запроса: Presented → Waiting → Eligible →
// Redeemed, с терминальным Rejected из любого состояния. Проверки
// выполняются строго по порядку, первая сработавшая решает исход.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/publink/internal/domain/model"
	"github.com/bigkaa/publink/internal/session"
	"github.com/bigkaa/publink/internal/storage/backend"
	"github.com/bigkaa/publink/internal/storage/linkstore"
)

// RejectKind — причина отказа шлюза.
type RejectKind string

// Причины отказа, в порядке проверки.
const (
	RejectNotFound       RejectKind = "NotFound"
	RejectExpired        RejectKind = "Expired"
	RejectLimitReached   RejectKind = "LimitReached"
	RejectAuthRequired   RejectKind = "AuthRequired"
	RejectWaitNotElapsed RejectKind = "WaitNotElapsed"
	RejectFileMissing    RejectKind = "FileMissing"
)

// Rejection — терминальный отказ шлюза для текущего запроса.
// Повторное предъявление токена позже допустимо, если условие
// изменилось (например, истекла задержка).
type Rejection struct {
	Kind RejectKind
	// RetryAfter — для WaitNotElapsed: сколько секунд осталось ждать
	RetryAfter int
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("отказ шлюза: %s", r.Kind)
}

// Prometheus метрики шлюза
var (
	// gateRedemptionsTotal — количество успешно начатых скачиваний.
	gateRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pl_gate_redemptions_total",
		Help: "Общее количество успешных выдач файла по токену",
	})

	// gateRejectionsTotal — количество отказов по причинам.
	gateRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pl_gate_rejections_total",
		Help: "Общее количество отказов шлюза по причинам",
	}, []string{"reason"})
)

// ViewStatus — данные страницы статуса ссылки.
type ViewStatus struct {
	Token         string
	FileName      string
	FileSize      int64
	LinkType      model.LinkType
	DownloadCount int
	MaxDownloads  int
	WaitSeconds   int
	ExpiresAt     time.Time
}

// Gate — шлюз выдачи файла.
type Gate struct {
	store       *linkstore.Store
	waits       *session.WaitStore
	backend     backend.Backend
	authEnabled bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewGate создаёт шлюз выдачи.
// authEnabled=false означает, что коллаборатор аутентификации не
// подключён: ссылки типа registered всегда отклоняются AuthRequired.
func NewGate(
	store *linkstore.Store,
	waits *session.WaitStore,
	be backend.Backend,
	authEnabled bool,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		store:       store,
		waits:       waits,
		backend:     be,
		authEnabled: authEnabled,
		logger:      logger.With(slog.String("component", "gate")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// evaluate выполняет проверки 1–4: запись, срок, лимит, доступ.
func (g *Gate) evaluate(tok string, authenticated bool) (*model.LinkRecord, *Rejection) {
	rec, err := g.store.Read(tok)
	if err != nil {
		// Некорректный токен и нечитаемая запись неотличимы снаружи
		if !errors.Is(err, linkstore.ErrNotFound) && !errors.Is(err, linkstore.ErrInvalidToken) {
			g.logger.Warn("Нечитаемая запись ссылки",
				slog.String("token", tok),
				slog.String("error", err.Error()),
			)
		}
		return nil, g.reject(RejectNotFound)
	}

	// Срок проверяется при каждом чтении, независимо от политики
	// автоудаления.
	if rec.IsExpired(g.now()) {
		return nil, g.reject(RejectExpired)
	}

	if rec.LimitReached() {
		return nil, g.reject(RejectLimitReached)
	}

	if rec.LinkType == model.LinkRegistered && (!g.authEnabled || !authenticated) {
		return nil, g.reject(RejectAuthRequired)
	}

	return rec, nil
}

// reject инкрементирует метрику и возвращает отказ.
func (g *Gate) reject(kind RejectKind) *Rejection {
	gateRejectionsTotal.WithLabelValues(string(kind)).Inc()
	return &Rejection{Kind: kind}
}

// View обрабатывает действие view: проверяет токен и фиксирует
// отметку начала ожидания. Повторный просмотр перезапускает отсчёт.
func (g *Gate) View(sessionID, tok string, authenticated bool) (*ViewStatus, *Rejection) {
	rec, rej := g.evaluate(tok, authenticated)
	if rej != nil {
		return nil, rej
	}

	g.waits.Mark(sessionID, tok, g.now())

	return &ViewStatus{
		Token:         rec.Token,
		FileName:      rec.FileName,
		FileSize:      rec.FileSize,
		LinkType:      rec.LinkType,
		DownloadCount: rec.DownloadCount,
		MaxDownloads:  rec.MaxDownloads,
		WaitSeconds:   rec.WaitSeconds,
		ExpiresAt:     rec.ExpiresAt,
	}, nil
}

// FileStream — открытый поток файла с актуальными атрибутами backend.
type FileStream struct {
	Reader io.ReadCloser
	Record *model.LinkRecord
	// Size — актуальный размер файла на момент открытия. Размер в
	// записи — справочный: файл мог измениться после создания ссылки,
	// а Content-Length со старым размером обрезает тело у клиента.
	// Отрицательное значение — размер неизвестен.
	Size int64
}

// Download обрабатывает действие download: полная последовательность
// проверок, затем открытие файла у backend-коллаборатора.
// Вызывающий код обязан закрыть Reader и после успешной отдачи
// потока вызвать CompleteDownload.
func (g *Gate) Download(ctx context.Context, sessionID, tok string, authenticated bool) (*FileStream, *Rejection) {
	rec, rej := g.evaluate(tok, authenticated)
	if rej != nil {
		return nil, rej
	}

	// Клиентский таймер — только UX; точка принуждения здесь.
	shownAt, ok := g.waits.ShownAt(sessionID, tok)
	if !ok {
		return nil, g.reject(RejectWaitNotElapsed)
	}
	wait := time.Duration(rec.WaitSeconds) * time.Second
	if elapsed := g.now().Sub(shownAt); elapsed < wait {
		rej := g.reject(RejectWaitNotElapsed)
		rej.RetryAfter = int((wait - elapsed).Round(time.Second) / time.Second)
		return nil, rej
	}

	// Запись может быть валидна при уже исчезнувшем файле —
	// независимые домены отказа.
	reader, err := g.backend.Open(ctx, rec.FileRef)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) && !errors.Is(err, backend.ErrInvalidRef) {
			g.logger.Error("Ошибка открытия файла у backend",
				slog.String("token", tok),
				slog.String("error", err.Error()),
			)
		}
		return nil, g.reject(RejectFileMissing)
	}

	size, err := g.backend.Size(ctx, rec.FileRef)
	if err != nil {
		// Файл открыт, но размер узнать не удалось — отдаём без
		// Content-Length, обрыв отдачи хуже его отсутствия
		g.logger.Warn("Не удалось получить размер файла",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		size = -1
	}

	gateRedemptionsTotal.Inc()

	g.logger.Debug("Выдача файла разрешена",
		slog.String("token", tok),
		slog.String("file_name", rec.FileName),
		slog.Int("download_count", rec.DownloadCount),
	)

	return &FileStream{Reader: reader, Record: rec, Size: size}, nil
}

// CompleteDownload фиксирует успешную отдачу потока: атомарно
// инкрементирует download_count и выставляет last_download_at.
// Мутатор не даёт счётчику превысить лимит при конкурентных
// скачиваниях. Ошибка — только предупреждение в логе: файл уже
// доставлен, откат невозможен.
func (g *Gate) CompleteDownload(tok string) {
	now := g.now()
	_, err := g.store.Update(tok, func(rec *model.LinkRecord) error {
		if rec.LimitReached() {
			return fmt.Errorf("лимит скачиваний уже исчерпан: %d/%d",
				rec.DownloadCount, rec.MaxDownloads)
		}
		rec.DownloadCount++
		rec.LastDownloadAt = &now
		return nil
	})
	if err != nil {
		g.logger.Warn("Не удалось обновить счётчик скачиваний",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}
}

// sweeper.go — сервис фоновой очистки истёкших ссылок.
//
// Sweeper удаляет записи, у которых истёк expires_at и установлен
// флаг auto_delete_on_expiry. Записи с выключенным флагом остаются
// на диске как след аудита: шлюз скачивания всё равно их отклонит.
//
// Запускается как горутина с периодическим тикером (PL_SWEEP_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/publink/internal/storage/linkstore"
)

// Prometheus метрики Sweeper
var (
	// sweepRunsTotal — количество запусков очистки.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pl_sweep_runs_total",
		Help: "Общее количество запусков очистки истёкших ссылок",
	})

	// sweepLinksDeletedTotal — количество удалённых записей.
	sweepLinksDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pl_sweep_links_deleted_total",
		Help: "Общее количество ссылок, удалённых очисткой",
	})

	// sweepDurationSeconds — длительность выполнения очистки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pl_sweep_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — результат одного запуска очистки.
type SweepResult struct {
	// DeletedCount — количество удалённых записей
	DeletedCount int
	// Errors — количество ошибок при обработке записей
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Sweeper — сервис фоновой очистки истёкших ссылок.
type Sweeper struct {
	store    *linkstore.Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewSweeper создаёт сервис очистки.
func NewSweeper(store *linkstore.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (s *Sweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Очистка запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновый процесс очистки.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Очистка остановлена")
}

// run — основной цикл фоновой горутины.
func (s *Sweeper) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *Sweeper) RunOnce() *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	s.logger.Debug("Очистка начата")

	now := time.Now().UTC()

	records, err := s.store.Enumerate()
	if err != nil {
		s.logger.Error("Очистка: ошибка сканирования хранилища",
			slog.String("error", err.Error()),
		)
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}

	for _, rec := range records {
		if !rec.IsExpired(now) || !rec.AutoDeleteOnExpiry {
			continue
		}

		if err := s.store.Delete(rec.Token); err != nil {
			// Запись могли удалить параллельно — не ошибка
			if errors.Is(err, linkstore.ErrNotFound) {
				continue
			}
			s.logger.Error("Очистка: ошибка удаления записи",
				slog.String("token", rec.Token),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		s.logger.Debug("Очистка: истёкшая ссылка удалена",
			slog.String("token", rec.Token),
			slog.String("file_name", rec.FileName),
			slog.Time("expires_at", rec.ExpiresAt),
		)
		result.DeletedCount++
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepLinksDeletedTotal.Add(float64(result.DeletedCount))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Очистка завершена",
		slog.Int("deleted", result.DeletedCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

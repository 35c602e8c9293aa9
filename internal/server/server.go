// Пакет server — HTTP-сервер Publink с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/publink/internal/api/handlers"
	"github.com/bigkaa/publink/internal/api/middleware"
	"github.com/bigkaa/publink/internal/config"
)

// Handlers — набор обработчиков, монтируемых на router.
type Handlers struct {
	Links    *handlers.LinksHandler
	Download *handlers.DownloadHandler
	Health   *handlers.HealthHandler
	// JWT — middleware аутентификации. nil, если JWKS недоступен:
	// management API в этом случае отвечает 503.
	JWT *middleware.JWTAuth
}

// Server — HTTP-сервер Publink.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health и метрики — без аутентификации
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Management API — только для аутентифицированных пользователей
	router.Route("/api/v1/links", func(r chi.Router) {
		if h.JWT != nil {
			r.Use(h.JWT.Middleware())
		} else {
			r.Use(authUnavailable(logger))
		}
		r.Post("/", h.Links.CreateLink)
		r.Get("/", h.Links.ListLinks)
		r.Get("/options", h.Links.GetOptions)
		r.Delete("/{token}", h.Links.DeleteLink)
	})

	// Публичный endpoint выдачи: токен без Authorization тоже валиден,
	// JWT разбирается только если заголовок присутствует
	router.Route("/d/{token}", func(r chi.Router) {
		if h.JWT != nil {
			r.Use(h.JWT.OptionalMiddleware())
		}
		r.Get("/", h.Download.Redeem)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // отдача крупных файлов
		IdleTimeout:  120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// authUnavailable отвечает 503 на management API, когда JWT middleware
// не удалось инициализировать (JWKS endpoint недоступен при старте).
func authUnavailable(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("Запрос к management API при недоступной аутентификации",
				slog.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"AUTH_UNAVAILABLE","message":"Сервис аутентификации недоступен"}}`))
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// из конфигурации.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

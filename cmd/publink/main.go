// Точка входа Publink — сервиса публичных ссылок на скачивание файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/publink/internal/api/handlers"
	"github.com/bigkaa/publink/internal/api/middleware"
	"github.com/bigkaa/publink/internal/config"
	"github.com/bigkaa/publink/internal/server"
	"github.com/bigkaa/publink/internal/service"
	"github.com/bigkaa/publink/internal/session"
	"github.com/bigkaa/publink/internal/storage/backend"
	"github.com/bigkaa/publink/internal/storage/linkstore"
)

// Параметры JWKS-клиента. В конфигурацию не выносятся: значения
// подобраны под типовой SSO и не менялись с первого релиза.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 5 * time.Minute
	jwtLeeway           = 30 * time.Second
)

// waitStoreSize — ёмкость LRU отметок ожидания.
const waitStoreSize = 100_000

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Publink запускается",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("version", config.Version),
		slog.String("backend", cfg.Backend),
		slog.Int("port", cfg.Port),
		slog.Bool("auth_enabled", cfg.AuthEnabled),
	)

	// --- Инициализация компонентов ---

	// 1. Хранилище записей ссылок
	if err := os.MkdirAll(cfg.LinksDir, 0o755); err != nil {
		logger.Error("Ошибка создания директории записей ссылок", slog.String("error", err.Error()))
		os.Exit(1)
	}
	store, err := linkstore.New(cfg.LinksDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища записей", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Backend выдачи файлов
	var be backend.Backend
	switch cfg.Backend {
	case config.BackendS3:
		be, err = backend.NewS3(context.Background(), backend.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
	default:
		be, err = backend.NewLocal(cfg.FilesRoot, logger)
	}
	if err != nil {
		logger.Error("Ошибка инициализации backend",
			slog.String("backend", cfg.Backend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 3. Отметки ожидания в памяти
	waits := session.NewWaitStore(waitStoreSize, cfg.SessionTTL)

	// 4. Фоновые процессы
	ctx := context.Background()

	// 4.1 Sweeper — очистка истёкших ссылок
	sweeper := service.NewSweeper(store, cfg.SweepInterval, logger)
	sweeper.Start(ctx)

	// 4.2 topologymetrics — мониторинг зависимостей
	var deps []service.Dependency
	if cfg.AuthEnabled {
		deps = append(deps, service.Dependency{
			Name:     "auth-jwks",
			URL:      cfg.JWKSUrl,
			Critical: false,
		})
	}
	if cfg.Backend == config.BackendS3 {
		s3URL := "https://" + cfg.S3Endpoint
		if !cfg.S3UseSSL {
			s3URL = "http://" + cfg.S3Endpoint
		}
		deps = append(deps, service.Dependency{
			Name:     "s3",
			URL:      s3URL,
			Critical: true,
		})
	}

	var dephealthSvc *service.DephealthService
	if len(deps) > 0 {
		var dephealthErr error
		dephealthSvc, dephealthErr = service.NewDephealthService(
			cfg.InstanceID,
			cfg.DephealthGroup,
			deps,
			cfg.DephealthCheckInterval,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.Int("dependencies", len(deps)),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 5. Сервисы
	registry := service.NewRegistry(store, sweeper, service.RegistryOptions{
		Expirations:         cfg.ExpirationOptions,
		Waits:               cfg.WaitOptions,
		MaxDownloadsCeiling: cfg.MaxDownloadsCeiling,
		AutoDeleteDefault:   cfg.AutoDeleteDefault,
	}, cfg.MintMaxAttempts, logger)

	// 6. JWT middleware — поднимается при заданном PL_JWKS_URL:
	// management API требует аутентификации независимо от PL_AUTH_ENABLED
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			JWTLeeway:       jwtLeeway,
		}, logger)
		if err != nil {
			// JWKS недоступен: публичная выдача работает, management API
			// отвечает 503 до перезапуска
			logger.Warn("JWT JWKS недоступен, management API отключён",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", err.Error()),
			)
			jwtAuth = nil
		} else {
			logger.Info("JWT аутентификация настроена",
				slog.String("jwks_url", cfg.JWKSUrl),
			)
		}
	}

	// Ссылки типа registered учитываются только при работающем JWT
	gate := service.NewGate(store, waits, be, cfg.AuthEnabled && jwtAuth != nil, logger)

	// 7. Handlers
	h := server.Handlers{
		Links:    handlers.NewLinksHandler(registry, logger),
		Download: handlers.NewDownloadHandler(gate, cfg.LoginURL, logger),
		Health:   handlers.NewHealthHandler(cfg.LinksDir, cfg.FilesRoot),
		JWT:      jwtAuth,
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	sweeper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if jwtAuth != nil {
		jwtAuth.Close()
	}

	logger.Info("Publink остановлен")
}

// Пакет config — загрузка и валидация конфигурации Publink
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Backend-ы выдачи файлов.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config содержит все параметры конфигурации Publink.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уникальный идентификатор инстанса (например, "publink-01")
	InstanceID string
	// Путь к директории записей ссылок
	LinksDir string
	// Backend выдачи файлов: local или s3
	Backend string
	// Корневая директория файлов (для backend local)
	FilesRoot string

	// Параметры S3 backend (для backend s3)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Разрешённые сроки жизни ссылки в минутах; первый — fallback
	ExpirationOptions []int
	// Разрешённые задержки скачивания в секундах; первый — fallback
	WaitOptions []int
	// Потолок лимита скачиваний
	MaxDownloadsCeiling int
	// Значение auto_delete_on_expiry по умолчанию
	AutoDeleteDefault bool
	// Лимит попыток выдачи токена при коллизиях
	MintMaxAttempts int

	// Учитывать ли ссылки типа registered (требует JWKS)
	AuthEnabled bool
	// URL JWKS endpoint провайдера аутентификации
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Адрес страницы входа для отказов AuthRequired
	LoginURL string

	// Интервал фоновой очистки истёкших ссылок
	SweepInterval time.Duration
	// Время жизни отметок ожидания в памяти
	SessionTTL time.Duration

	// Путь к TLS сертификату (опционально: пусто — plain HTTP)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (PL_DEPHEALTH_GROUP)
	DephealthGroup string

	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds.
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// PL_PORT — порт HTTP-сервера (по умолчанию 8030)
	port, err := getEnvInt("PL_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("PL_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PL_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// PL_INSTANCE_ID — идентификатор инстанса (по умолчанию "publink-01")
	cfg.InstanceID = getEnvDefault("PL_INSTANCE_ID", "publink-01")

	// PL_LINKS_DIR — обязательный
	cfg.LinksDir, err = getEnvRequired("PL_LINKS_DIR")
	if err != nil {
		return nil, err
	}

	// PL_BACKEND — backend выдачи файлов (по умолчанию local)
	cfg.Backend = getEnvDefault("PL_BACKEND", BackendLocal)
	if cfg.Backend != BackendLocal && cfg.Backend != BackendS3 {
		return nil, fmt.Errorf("PL_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.Backend)
	}

	switch cfg.Backend {
	case BackendLocal:
		// PL_FILES_ROOT — обязательный для local backend
		cfg.FilesRoot, err = getEnvRequired("PL_FILES_ROOT")
		if err != nil {
			return nil, err
		}
	case BackendS3:
		// Параметры S3 — обязательные для s3 backend
		cfg.S3Endpoint, err = getEnvRequired("PL_S3_ENDPOINT")
		if err != nil {
			return nil, err
		}
		cfg.S3AccessKey, err = getEnvRequired("PL_S3_ACCESS_KEY")
		if err != nil {
			return nil, err
		}
		cfg.S3SecretKey, err = getEnvRequired("PL_S3_SECRET_KEY")
		if err != nil {
			return nil, err
		}
		cfg.S3Bucket, err = getEnvRequired("PL_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3UseSSL, err = getEnvBool("PL_S3_USE_SSL", true)
		if err != nil {
			return nil, fmt.Errorf("PL_S3_USE_SSL: %w", err)
		}
	}

	// PL_EXPIRATION_OPTIONS — allow-list сроков жизни в минутах
	cfg.ExpirationOptions, err = getEnvIntList("PL_EXPIRATION_OPTIONS",
		[]int{30, 60, 120, 180, 360, 720, 1440, 2160, 2880})
	if err != nil {
		return nil, fmt.Errorf("PL_EXPIRATION_OPTIONS: %w", err)
	}
	for _, v := range cfg.ExpirationOptions {
		if v <= 0 {
			return nil, fmt.Errorf("PL_EXPIRATION_OPTIONS: срок жизни должен быть положительным, получено %d", v)
		}
	}

	// PL_WAIT_OPTIONS — allow-list задержек в секундах
	cfg.WaitOptions, err = getEnvIntList("PL_WAIT_OPTIONS", []int{0, 10, 30, 60, 120, 300})
	if err != nil {
		return nil, fmt.Errorf("PL_WAIT_OPTIONS: %w", err)
	}
	for _, v := range cfg.WaitOptions {
		if v < 0 {
			return nil, fmt.Errorf("PL_WAIT_OPTIONS: задержка не может быть отрицательной, получено %d", v)
		}
	}

	// PL_MAX_DOWNLOADS_CEILING — потолок лимита скачиваний (по умолчанию 1000)
	cfg.MaxDownloadsCeiling, err = getEnvInt("PL_MAX_DOWNLOADS_CEILING", 1000)
	if err != nil {
		return nil, fmt.Errorf("PL_MAX_DOWNLOADS_CEILING: %w", err)
	}
	if cfg.MaxDownloadsCeiling <= 0 {
		return nil, fmt.Errorf("PL_MAX_DOWNLOADS_CEILING: значение должно быть положительным")
	}

	// PL_AUTO_DELETE_DEFAULT — умолчание auto_delete_on_expiry (по умолчанию true)
	cfg.AutoDeleteDefault, err = getEnvBool("PL_AUTO_DELETE_DEFAULT", true)
	if err != nil {
		return nil, fmt.Errorf("PL_AUTO_DELETE_DEFAULT: %w", err)
	}

	// PL_MINT_MAX_ATTEMPTS — лимит попыток выдачи токена (по умолчанию 10)
	cfg.MintMaxAttempts, err = getEnvInt("PL_MINT_MAX_ATTEMPTS", 10)
	if err != nil {
		return nil, fmt.Errorf("PL_MINT_MAX_ATTEMPTS: %w", err)
	}
	if cfg.MintMaxAttempts <= 0 {
		return nil, fmt.Errorf("PL_MINT_MAX_ATTEMPTS: значение должно быть положительным")
	}

	// PL_AUTH_ENABLED — учитывать ссылки типа registered (по умолчанию false)
	cfg.AuthEnabled, err = getEnvBool("PL_AUTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("PL_AUTH_ENABLED: %w", err)
	}

	// PL_JWKS_URL — JWKS endpoint; используется и для management API,
	// и для ссылок типа registered
	cfg.JWKSUrl = getEnvDefault("PL_JWKS_URL", "")
	if cfg.AuthEnabled && cfg.JWKSUrl == "" {
		return nil, fmt.Errorf("PL_JWKS_URL: обязателен при PL_AUTH_ENABLED=true")
	}

	// PL_JWKS_CA_CERT — путь к CA-сертификату для JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("PL_JWKS_CA_CERT", "")

	// PL_LOGIN_URL — адрес страницы входа (по умолчанию /login)
	cfg.LoginURL = getEnvDefault("PL_LOGIN_URL", "/login")

	// PL_SWEEP_INTERVAL — интервал очистки (по умолчанию 1h)
	cfg.SweepInterval, err = getEnvDuration("PL_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PL_SWEEP_INTERVAL: %w", err)
	}

	// PL_SESSION_TTL — время жизни отметок ожидания (по умолчанию 48h,
	// с запасом больше максимального срока жизни ссылки)
	cfg.SessionTTL, err = getEnvDuration("PL_SESSION_TTL", 48*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PL_SESSION_TTL: %w", err)
	}

	// PL_TLS_CERT / PL_TLS_KEY — опциональные, но только парой
	cfg.TLSCert = getEnvDefault("PL_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("PL_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("PL_TLS_CERT и PL_TLS_KEY должны задаваться вместе")
	}

	// PL_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PL_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PL_LOG_LEVEL: %w", err)
	}

	// PL_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PL_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PL_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// PL_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("PL_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PL_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// PL_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "publink")
	cfg.DephealthGroup = getEnvDefault("PL_DEPHEALTH_GROUP", "publink")

	// PL_SHUTDOWN_TIMEOUT — таймаут graceful shutdown HTTP-сервера (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("PL_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PL_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (используйте true/false)", val)
	}
	return b, nil
}

// getEnvIntList разбирает список целых чисел через запятую
// ("30,60,120") или возвращает значение по умолчанию.
func getEnvIntList(key string, defaultVal []int) ([]int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	parts := strings.Split(val, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("некорректный элемент списка: %q", p)
		}
		result = append(result, n)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("список не может быть пустым")
	}
	return result, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/publink/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// linksDir — путь к директории записей ссылок (для проверки FS)
	linksDir string
	// filesRoot — корневая директория файлов (пусто для backend s3)
	filesRoot string
}

// NewHealthHandler создаёт обработчик health endpoints.
// filesRoot передавать пустым для backend s3: доступность S3 отражается
// в метриках topologymetrics, readiness от неё не зависит.
func NewHealthHandler(linksDir, filesRoot string) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		linksDir:  linksDir,
		filesRoot: filesRoot,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "publink",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директория записей ссылок на запись, директория файлов на чтение.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	// Проверка директории записей ссылок — без неё сервис неработоспособен
	linksCheck := h.checkLinksDir()
	if linksCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Проверка корневой директории файлов — деградация, ссылки ещё
	// можно перечислять и удалять
	filesCheck := h.checkFilesRoot()
	if filesCheck["status"] != "ok" {
		if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "publink",
		"checks": map[string]any{
			"links_dir":  linksCheck,
			"files_root": filesCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkLinksDir проверяет доступность директории записей ссылок на запись.
func (h *HealthHandler) checkLinksDir() map[string]any {
	if h.linksDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.linksDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория записей ссылок недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// checkFilesRoot проверяет доступность корневой директории файлов на чтение.
func (h *HealthHandler) checkFilesRoot() map[string]any {
	if h.filesRoot == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не применима",
		}
	}

	info, err := os.Stat(h.filesRoot)
	if err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Корневая директория файлов недоступна: " + err.Error(),
		}
	}
	if !info.IsDir() {
		return map[string]any{
			"status":  statusFail,
			"message": "Путь корневой директории файлов не является директорией",
		}
	}

	return map[string]any{
		"status": "ok",
	}
}

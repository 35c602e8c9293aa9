package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/publink/internal/api/middleware"
	"github.com/bigkaa/publink/internal/service"
	"github.com/bigkaa/publink/internal/session"
	"github.com/bigkaa/publink/internal/storage/backend"
	"github.com/bigkaa/publink/internal/storage/linkstore"
)

// testLogger возвращает логгер, пишущий в никуда.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// handlerEnv — окружение тестов HTTP-обработчиков: реальный реестр,
// шлюз и router поверх временных директорий.
type handlerEnv struct {
	store     *linkstore.Store
	registry  *service.Registry
	gate      *service.Gate
	filesRoot string
	router    chi.Router
}

// newHandlerEnv собирает окружение с backend local и тестовым файлом
// docs/report.pdf.
func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	logger := testLogger()

	store, err := linkstore.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("создание хранилища записей: %v", err)
	}

	filesRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(filesRoot, "docs"), 0o755); err != nil {
		t.Fatalf("создание поддиректории: %v", err)
	}
	if err := os.WriteFile(filepath.Join(filesRoot, "docs", "report.pdf"), []byte("pdf data"), 0o644); err != nil {
		t.Fatalf("запись тестового файла: %v", err)
	}

	be, err := backend.NewLocal(filesRoot, logger)
	if err != nil {
		t.Fatalf("создание local backend: %v", err)
	}

	registry := service.NewRegistry(store, nil, service.RegistryOptions{
		Expirations:         []int{30, 60, 120},
		Waits:               []int{0, 10, 30},
		MaxDownloadsCeiling: 1000,
		AutoDeleteDefault:   true,
	}, 10, logger)

	waits := session.NewWaitStore(1024, time.Hour)
	gate := service.NewGate(store, waits, be, false, logger)

	linksHandler := NewLinksHandler(registry, logger)
	downloadHandler := NewDownloadHandler(gate, "/login", logger)

	router := chi.NewRouter()
	router.Post("/api/v1/links", linksHandler.CreateLink)
	router.Get("/api/v1/links", linksHandler.ListLinks)
	router.Get("/api/v1/links/options", linksHandler.GetOptions)
	router.Delete("/api/v1/links/{token}", linksHandler.DeleteLink)
	router.Get("/d/{token}", downloadHandler.Redeem)

	return &handlerEnv{
		store:     store,
		registry:  registry,
		gate:      gate,
		filesRoot: filesRoot,
		router:    router,
	}
}

// authContext возвращает контекст с идентичностью аутентифицированного
// пользователя, как его заполняет JWT middleware.
func authContext(subject, name string) context.Context {
	ctx := context.WithValue(context.Background(), middleware.ContextKeySubject, subject)
	return context.WithValue(ctx, middleware.ContextKeyName, name)
}

// doJSON выполняет запрос к router и возвращает recorder.
func (env *handlerEnv) doJSON(t *testing.T, ctx context.Context, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("сериализация тела запроса: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// createTestLink создаёт ссылку через API и возвращает её токен.
func (env *handlerEnv) createTestLink(t *testing.T, body map[string]any) string {
	t.Helper()
	rec := env.doJSON(t, authContext("user-1", "Иван"), http.MethodPost, "/api/v1/links", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание ссылки: ожидался статус 201, получен %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	return resp.Token
}

// testCreateBody — валидное тело запроса создания ссылки.
func testCreateBody() map[string]any {
	return map[string]any{
		"file_ref":           backend.EncodeRef("docs/report.pdf"),
		"file_name":          "report.pdf",
		"file_size":          8,
		"expiration_minutes": 60,
		"wait_seconds":       0,
		"max_downloads":      5,
	}
}

func TestCreateLink(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.doJSON(t, authContext("user-1", "Иван"), http.MethodPost, "/api/v1/links", testCreateBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался статус 201, получен %d: %s", rec.Code, rec.Body.String())
	}

	var resp linkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if len(resp.Token) != 64 {
		t.Errorf("длина токена: ожидалось 64, получено %d", len(resp.Token))
	}
	if resp.URL != "/d/"+resp.Token {
		t.Errorf("URL: ожидалось '/d/%s', получено %q", resp.Token, resp.URL)
	}
	if resp.OwnerID != "user-1" {
		t.Errorf("OwnerID: ожидалось 'user-1', получено %q", resp.OwnerID)
	}
	if resp.OwnerName != "Иван" {
		t.Errorf("OwnerName: ожидалось 'Иван', получено %q", resp.OwnerName)
	}
	if resp.FileName != "report.pdf" {
		t.Errorf("FileName: ожидалось 'report.pdf', получено %q", resp.FileName)
	}
	if resp.LinkType != "public" {
		t.Errorf("LinkType: ожидалось 'public', получено %q", resp.LinkType)
	}
	if resp.MaxDownloads != 5 {
		t.Errorf("MaxDownloads: ожидалось 5, получено %d", resp.MaxDownloads)
	}
	if resp.IsExpired {
		t.Error("IsExpired: ожидалось false")
	}

	// FileRef не должен попадать в ответ
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("разбор сырого ответа: %v", err)
	}
	if _, ok := raw["file_ref"]; ok {
		t.Error("file_ref не должен отдаваться в ответе API")
	}
}

func TestCreateLink_Unauthenticated(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.doJSON(t, context.Background(), http.MethodPost, "/api/v1/links", testCreateBody())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидался статус 401, получен %d", rec.Code)
	}
}

func TestCreateLink_InvalidJSON(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/links",
		bytes.NewReader([]byte("{сломанный json"))).
		WithContext(authContext("user-1", "Иван"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался статус 400, получен %d", rec.Code)
	}
}

func TestCreateLink_ValidationError(t *testing.T) {
	env := newHandlerEnv(t)

	body := testCreateBody()
	body["file_name"] = ""
	rec := env.doJSON(t, authContext("user-1", "Иван"), http.MethodPost, "/api/v1/links", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался статус 400, получен %d: %s", rec.Code, rec.Body.String())
	}

	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("разбор ответа ошибки: %v", err)
	}
	if errResp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("код ошибки: ожидалось VALIDATION_ERROR, получено %q", errResp.Error.Code)
	}
}

func TestListLinks(t *testing.T) {
	env := newHandlerEnv(t)

	env.createTestLink(t, testCreateBody())
	env.createTestLink(t, testCreateBody())

	// Чужая ссылка не должна попасть в выдачу
	otherRec := env.doJSON(t, authContext("user-2", "Пётр"), http.MethodPost, "/api/v1/links", testCreateBody())
	if otherRec.Code != http.StatusCreated {
		t.Fatalf("создание чужой ссылки: статус %d", otherRec.Code)
	}

	rec := env.doJSON(t, authContext("user-1", "Иван"), http.MethodGet, "/api/v1/links", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var resp struct {
		Links []linkResponse `json:"links"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("Total: ожидалось 2, получено %d", resp.Total)
	}
	for _, l := range resp.Links {
		if l.OwnerID != "user-1" {
			t.Errorf("в выдаче чужая ссылка владельца %q", l.OwnerID)
		}
	}
}

func TestListLinks_Unauthenticated(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.doJSON(t, context.Background(), http.MethodGet, "/api/v1/links", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидался статус 401, получен %d", rec.Code)
	}
}

func TestDeleteLink(t *testing.T) {
	env := newHandlerEnv(t)

	tok := env.createTestLink(t, testCreateBody())

	rec := env.doJSON(t, authContext("user-1", "Иван"), http.MethodDelete, "/api/v1/links/"+tok, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ожидался статус 204, получен %d: %s", rec.Code, rec.Body.String())
	}

	// Повторное удаление — 404
	rec = env.doJSON(t, authContext("user-1", "Иван"), http.MethodDelete, "/api/v1/links/"+tok, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("повторное удаление: ожидался статус 404, получен %d", rec.Code)
	}
}

func TestDeleteLink_Foreign(t *testing.T) {
	env := newHandlerEnv(t)

	tok := env.createTestLink(t, testCreateBody())

	rec := env.doJSON(t, authContext("user-2", "Пётр"), http.MethodDelete, "/api/v1/links/"+tok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ожидался статус 403, получен %d", rec.Code)
	}

	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("разбор ответа ошибки: %v", err)
	}
	if errResp.Error.Code != "FORBIDDEN" {
		t.Errorf("код ошибки: ожидалось FORBIDDEN, получено %q", errResp.Error.Code)
	}
}

func TestGetOptions(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.doJSON(t, context.Background(), http.MethodGet, "/api/v1/links/options", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var resp struct {
		ExpirationMinutes   []int    `json:"expiration_minutes"`
		WaitSeconds         []int    `json:"wait_seconds"`
		MaxDownloadsCeiling int      `json:"max_downloads_ceiling"`
		AutoDeleteDefault   bool     `json:"auto_delete_default"`
		LinkTypes           []string `json:"link_types"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if len(resp.ExpirationMinutes) != 3 || resp.ExpirationMinutes[0] != 30 {
		t.Errorf("expiration_minutes: получено %v", resp.ExpirationMinutes)
	}
	if len(resp.WaitSeconds) != 3 || resp.WaitSeconds[0] != 0 {
		t.Errorf("wait_seconds: получено %v", resp.WaitSeconds)
	}
	if resp.MaxDownloadsCeiling != 1000 {
		t.Errorf("max_downloads_ceiling: ожидалось 1000, получено %d", resp.MaxDownloadsCeiling)
	}
	if !resp.AutoDeleteDefault {
		t.Error("auto_delete_default: ожидалось true")
	}
	if len(resp.LinkTypes) != 2 {
		t.Errorf("link_types: получено %v", resp.LinkTypes)
	}
}

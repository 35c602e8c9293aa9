package service

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/publink/internal/domain/model"
	"github.com/bigkaa/publink/internal/storage/linkstore"
)

// testLogger — логгер для тестов, только ошибки.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestStore создаёт хранилище записей во временной директории.
func newTestStore(t *testing.T) *linkstore.Store {
	t.Helper()
	store, err := linkstore.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания Store: %v", err)
	}
	return store
}

// testRegistryOptions — allow-list'ы по умолчанию для тестов.
func testRegistryOptions() RegistryOptions {
	return RegistryOptions{
		Expirations:         []int{30, 60, 120},
		Waits:               []int{0, 10, 30},
		MaxDownloadsCeiling: 1000,
		AutoDeleteDefault:   true,
	}
}

// newTestRegistry создаёт реестр без фоновой очистки.
func newTestRegistry(t *testing.T) (*Registry, *linkstore.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewRegistry(store, nil, testRegistryOptions(), 10, testLogger()), store
}

func testCreateRequest() CreateRequest {
	return CreateRequest{
		FileRef:           "ZG9jcy9yZXBvcnQucGRm", // docs/report.pdf
		FileName:          "report.pdf",
		FileSize:          2048,
		LinkType:          "public",
		ExpirationMinutes: 60,
		WaitSeconds:       10,
		MaxDownloads:      5,
	}
}

var testOwner = Owner{ID: "user-1", Name: "Иван"}

func TestCreateLink(t *testing.T) {
	reg, store := newTestRegistry(t)

	rec, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if !linkstore.ValidToken(rec.Token) {
		t.Errorf("токен %q не прошёл проверку формата", rec.Token)
	}
	if rec.OwnerID != "user-1" {
		t.Errorf("owner_id: хотели user-1, получили %q", rec.OwnerID)
	}
	if rec.WaitSeconds != 10 {
		t.Errorf("wait_seconds: хотели 10, получили %d", rec.WaitSeconds)
	}
	if rec.MaxDownloads != 5 {
		t.Errorf("max_downloads: хотели 5, получили %d", rec.MaxDownloads)
	}
	if !rec.AutoDeleteOnExpiry {
		t.Error("auto_delete_on_expiry должен взять серверное умолчание true")
	}

	// Точная арифметика срока жизни
	want := rec.CreatedAt.Add(60 * time.Minute)
	if !rec.ExpiresAt.Equal(want) {
		t.Errorf("expires_at: хотели %v, получили %v", want, rec.ExpiresAt)
	}

	// Запись действительно на диске
	stored, err := store.Read(rec.Token)
	if err != nil {
		t.Fatalf("Read после CreateLink: %v", err)
	}
	if stored.FileName != "report.pdf" {
		t.Errorf("file_name на диске: хотели report.pdf, получили %q", stored.FileName)
	}
}

func TestCreateLink_TokensUnique(t *testing.T) {
	reg, _ := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec, err := reg.CreateLink(testOwner, testCreateRequest())
		if err != nil {
			t.Fatalf("CreateLink #%d: %v", i, err)
		}
		if seen[rec.Token] {
			t.Fatalf("токен %s выдан дважды", rec.Token)
		}
		seen[rec.Token] = true
	}
}

func TestCreateLink_DisallowedExpirationFallsBack(t *testing.T) {
	reg, _ := newTestRegistry(t)

	req := testCreateRequest()
	req.ExpirationMinutes = 45 // нет в allow-list {30,60,120}

	rec, err := reg.CreateLink(testOwner, req)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	want := rec.CreatedAt.Add(30 * time.Minute)
	if !rec.ExpiresAt.Equal(want) {
		t.Errorf("срок вне allow-list должен стать 30 минут: хотели %v, получили %v", want, rec.ExpiresAt)
	}
}

func TestCreateLink_DisallowedWaitFallsBack(t *testing.T) {
	reg, _ := newTestRegistry(t)

	req := testCreateRequest()
	req.WaitSeconds = 7 // нет в allow-list {0,10,30}

	rec, err := reg.CreateLink(testOwner, req)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if rec.WaitSeconds != 0 {
		t.Errorf("задержка вне allow-list должна стать 0, получили %d", rec.WaitSeconds)
	}
}

func TestCreateLink_MaxDownloadsClamped(t *testing.T) {
	reg, _ := newTestRegistry(t)

	req := testCreateRequest()
	req.MaxDownloads = 99999

	rec, err := reg.CreateLink(testOwner, req)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if rec.MaxDownloads != 1000 {
		t.Errorf("лимит должен быть обрезан до 1000, получили %d", rec.MaxDownloads)
	}
}

func TestCreateLink_InvalidInput(t *testing.T) {
	reg, _ := newTestRegistry(t)

	tests := []struct {
		name   string
		owner  Owner
		mutate func(*CreateRequest)
	}{
		{"пустой владелец", Owner{}, func(r *CreateRequest) {}},
		{"пустой file_ref", testOwner, func(r *CreateRequest) { r.FileRef = "" }},
		{"пустое имя файла", testOwner, func(r *CreateRequest) { r.FileName = "" }},
		{"отрицательный размер", testOwner, func(r *CreateRequest) { r.FileSize = -1 }},
		{"неизвестный тип ссылки", testOwner, func(r *CreateRequest) { r.LinkType = "secret" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testCreateRequest()
			tt.mutate(&req)
			if _, err := reg.CreateLink(tt.owner, req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("хотели ErrInvalidInput, получили %v", err)
			}
		})
	}
}

func TestCreateLink_ExplicitAutoDelete(t *testing.T) {
	reg, _ := newTestRegistry(t)

	keep := false
	req := testCreateRequest()
	req.AutoDelete = &keep

	rec, err := reg.CreateLink(testOwner, req)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if rec.AutoDeleteOnExpiry {
		t.Error("явный auto_delete=false должен перекрыть серверное умолчание")
	}
}

func TestCreateLink_RunsSweep(t *testing.T) {
	store := newTestStore(t)
	sweeper := NewSweeper(store, time.Hour, testLogger())
	reg := NewRegistry(store, sweeper, testRegistryOptions(), 10, testLogger())

	// Истёкшая запись с автоудалением
	expired, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	makeExpired(t, store, expired.Token)

	// Новое создание прибирает истёкшую запись
	if _, err := reg.CreateLink(testOwner, testCreateRequest()); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if _, err := store.Read(expired.Token); !errors.Is(err, linkstore.ErrNotFound) {
		t.Errorf("истёкшая запись должна быть удалена попутной очисткой, получили %v", err)
	}
}

// makeExpired сдвигает срок жизни записи в прошлое.
func makeExpired(t *testing.T, store *linkstore.Store, token string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := store.Update(token, func(rec *model.LinkRecord) error {
		rec.CreatedAt = past.Add(-30 * time.Minute)
		rec.ExpiresAt = past
		return nil
	}); err != nil {
		t.Fatalf("не удалось состарить запись: %v", err)
	}
}

func TestListLinks_OwnerFiltering(t *testing.T) {
	reg, _ := newTestRegistry(t)
	other := Owner{ID: "user-2", Name: "Пётр"}

	mine, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if _, err := reg.CreateLink(other, testCreateRequest()); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	links, err := reg.ListLinks(testOwner)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("хотели 1 ссылку, получили %d", len(links))
	}
	if links[0].Token != mine.Token {
		t.Errorf("в списке чужая ссылка: %s", links[0].Token)
	}
}

func TestListLinks_SortNewestFirst(t *testing.T) {
	reg, store := newTestRegistry(t)

	first, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	second, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	// Разносим created_at, порядок создания не гарантирует разницу часов
	if _, err := store.Update(second.Token, func(rec *model.LinkRecord) error {
		rec.CreatedAt = first.CreatedAt.Add(time.Minute)
		rec.ExpiresAt = rec.CreatedAt.Add(time.Hour)
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	links, err := reg.ListLinks(testOwner)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("хотели 2 ссылки, получили %d", len(links))
	}
	if links[0].Token != second.Token {
		t.Errorf("новая ссылка должна идти первой, получили %s", links[0].Token)
	}
}

func TestListLinks_ExpiredAutoDeleteExcluded(t *testing.T) {
	reg, store := newTestRegistry(t)

	rec, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	makeExpired(t, store, rec.Token)

	links, err := reg.ListLinks(testOwner)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("истёкшая запись с автоудалением не должна попасть в список, получили %d", len(links))
	}
	if _, err := store.Read(rec.Token); !errors.Is(err, linkstore.ErrNotFound) {
		t.Errorf("запись должна быть удалена при листинге, получили %v", err)
	}
}

func TestListLinks_ExpiredKeptAnnotated(t *testing.T) {
	reg, store := newTestRegistry(t)

	keep := false
	req := testCreateRequest()
	req.AutoDelete = &keep
	rec, err := reg.CreateLink(testOwner, req)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	makeExpired(t, store, rec.Token)

	links, err := reg.ListLinks(testOwner)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("запись без автоудаления должна остаться в списке, получили %d", len(links))
	}
	if !links[0].IsExpired {
		t.Error("истёкшая запись должна быть аннотирована IsExpired")
	}

	// Явное удаление работает независимо от флага
	if err := reg.DeleteLink(testOwner, rec.Token); err != nil {
		t.Errorf("DeleteLink истёкшей записи: %v", err)
	}
}

func TestDeleteLink(t *testing.T) {
	reg, _ := newTestRegistry(t)

	rec, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if err := reg.DeleteLink(testOwner, rec.Token); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}

	// Повторное удаление — NotFound
	if err := reg.DeleteLink(testOwner, rec.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound при повторном удалении, получили %v", err)
	}
}

func TestDeleteLink_PermissionDenied(t *testing.T) {
	reg, store := newTestRegistry(t)
	other := Owner{ID: "user-2"}

	rec, err := reg.CreateLink(testOwner, testCreateRequest())
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if err := reg.DeleteLink(other, rec.Token); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("хотели ErrPermissionDenied, получили %v", err)
	}

	// Запись не пострадала
	if _, err := store.Read(rec.Token); err != nil {
		t.Errorf("запись должна остаться после отказа: %v", err)
	}
}

func TestDeleteLink_UnknownToken(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.DeleteLink(testOwner, "0000000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound, получили %v", err)
	}
}

func TestOptions(t *testing.T) {
	reg, _ := newTestRegistry(t)

	opts := reg.Options()
	if len(opts.Expirations) == 0 || opts.Expirations[0] != 30 {
		t.Errorf("allow-list сроков: хотели первый элемент 30, получили %v", opts.Expirations)
	}
	if !opts.AutoDeleteDefault {
		t.Error("умолчание auto_delete должно быть true")
	}
}

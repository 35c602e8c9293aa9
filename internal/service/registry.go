// registry.go — реестр ссылок: создание, список, удаление.
// Оркестрирует валидацию политики, выдачу токена и хранилище записей.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bigkaa/publink/internal/domain/model"
	"github.com/bigkaa/publink/internal/policy"
	"github.com/bigkaa/publink/internal/storage/linkstore"
	"github.com/bigkaa/publink/internal/token"
)

// Ошибки реестра.
var (
	// ErrPermissionDenied — попытка удалить чужую ссылку.
	ErrPermissionDenied = errors.New("ссылка принадлежит другому владельцу")
	// ErrNotFound — ссылка не найдена.
	ErrNotFound = errors.New("ссылка не найдена")
	// ErrInvalidInput — некорректные параметры создания.
	ErrInvalidInput = errors.New("некорректные параметры создания ссылки")
)

// RegistryOptions — серверные allow-list'ы и умолчания политики.
type RegistryOptions struct {
	// Expirations — разрешённые сроки жизни в минутах, первый — fallback
	Expirations []int
	// Waits — разрешённые задержки в секундах, первый — fallback
	Waits []int
	// MaxDownloadsCeiling — потолок лимита скачиваний
	MaxDownloadsCeiling int
	// AutoDeleteDefault — значение auto_delete_on_expiry по умолчанию
	AutoDeleteDefault bool
}

// CreateRequest — параметры создания ссылки после разбора транспорта.
// Единственное место, где клиентский ввод превращается в типизированные
// значения: дальше по конвейеру сырой ввод не интерпретируется.
type CreateRequest struct {
	FileRef           string
	RootPath          string
	FileName          string
	FileSize          int64
	LinkType          string
	ExpirationMinutes int
	WaitSeconds       int
	MaxDownloads      int
	AutoDelete        *bool // nil — взять серверное умолчание
}

// Owner — идентичность владельца ссылки.
type Owner struct {
	ID   string
	Name string
}

// ListedLink — запись в выдаче списка с аннотацией истечения.
type ListedLink struct {
	*model.LinkRecord
	IsExpired bool
}

// Registry — реестр ссылок.
type Registry struct {
	store       *linkstore.Store
	sweeper     *Sweeper
	opts        RegistryOptions
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewRegistry создаёт реестр ссылок.
// maxAttempts — лимит попыток выдачи токена при коллизиях.
func NewRegistry(
	store *linkstore.Store,
	sweeper *Sweeper,
	opts RegistryOptions,
	maxAttempts int,
	logger *slog.Logger,
) *Registry {
	if maxAttempts <= 0 {
		maxAttempts = token.DefaultMaxAttempts
	}
	return &Registry{
		store:       store,
		sweeper:     sweeper,
		opts:        opts,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "registry")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Options возвращает allow-list'ы и умолчания для заполнения клиентской формы.
func (r *Registry) Options() RegistryOptions {
	return r.opts
}

// CreateLink валидирует параметры, выдаёт токен и сохраняет запись.
// Перед возвратом запускает синхронную очистку истёкших записей —
// best-effort, ошибка очистки не влияет на результат создания.
func (r *Registry) CreateLink(owner Owner, req CreateRequest) (*model.LinkRecord, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("%w: пустой владелец", ErrInvalidInput)
	}
	if req.FileRef == "" {
		return nil, fmt.Errorf("%w: пустая ссылка на файл", ErrInvalidInput)
	}
	if req.FileName == "" {
		return nil, fmt.Errorf("%w: пустое имя файла", ErrInvalidInput)
	}
	if req.FileSize < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер файла", ErrInvalidInput)
	}

	linkType, err := policy.LinkType(req.LinkType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	minutes := policy.Expiration(req.ExpirationMinutes, r.opts.Expirations)
	if minutes != req.ExpirationMinutes {
		r.logger.Warn("Срок жизни вне allow-list, заменён значением по умолчанию",
			slog.Int("requested", req.ExpirationMinutes),
			slog.Int("applied", minutes),
		)
	}
	waitSeconds := policy.Wait(req.WaitSeconds, r.opts.Waits)
	if waitSeconds != req.WaitSeconds {
		r.logger.Warn("Задержка скачивания вне allow-list, заменена значением по умолчанию",
			slog.Int("requested", req.WaitSeconds),
			slog.Int("applied", waitSeconds),
		)
	}
	maxDownloads, clamped := policy.ClampMaxDownloads(req.MaxDownloads, r.opts.MaxDownloadsCeiling)
	if clamped {
		r.logger.Warn("Лимит скачиваний выше потолка, обрезан",
			slog.Int("requested", req.MaxDownloads),
			slog.Int("applied", maxDownloads),
		)
	}

	autoDelete := r.opts.AutoDeleteDefault
	if req.AutoDelete != nil {
		autoDelete = *req.AutoDelete
	}

	createdAt := r.now()
	rec := &model.LinkRecord{
		OwnerID:            owner.ID,
		OwnerName:          owner.Name,
		FileRef:            req.FileRef,
		RootPath:           req.RootPath,
		FileName:           req.FileName,
		FileSize:           req.FileSize,
		LinkType:           linkType,
		WaitSeconds:        waitSeconds,
		MaxDownloads:       maxDownloads,
		DownloadCount:      0,
		CreatedAt:          createdAt,
		ExpiresAt:          createdAt.Add(time.Duration(minutes) * time.Minute),
		AutoDeleteOnExpiry: autoDelete,
	}

	if _, err := token.Mint(r.store, token.NewCandidate, rec, r.maxAttempts); err != nil {
		return nil, err
	}

	r.logger.Info("Ссылка создана",
		slog.String("token", rec.Token),
		slog.String("owner_id", owner.ID),
		slog.String("file_name", rec.FileName),
		slog.String("link_type", string(rec.LinkType)),
		slog.Time("expires_at", rec.ExpiresAt),
	)

	// Попутная уборка: хранилище не растёт бесконтрольно между
	// запусками фонового тикера.
	if r.sweeper != nil {
		r.sweeper.RunOnce()
	}

	return rec, nil
}

// ListLinks возвращает ссылки владельца, новые первыми.
// Истёкшие записи с auto_delete_on_expiry удаляются на месте и
// в выдачу не попадают; с выключенным флагом — аннотируются IsExpired.
func (r *Registry) ListLinks(owner Owner) ([]*ListedLink, error) {
	records, err := r.store.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования хранилища: %w", err)
	}

	now := r.now()
	result := make([]*ListedLink, 0, len(records))
	for _, rec := range records {
		if rec.OwnerID != owner.ID {
			continue
		}
		if rec.IsExpired(now) && rec.AutoDeleteOnExpiry {
			if err := r.store.Delete(rec.Token); err != nil && !errors.Is(err, linkstore.ErrNotFound) {
				r.logger.Warn("Не удалось удалить истёкшую ссылку при листинге",
					slog.String("token", rec.Token),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		result = append(result, &ListedLink{
			LinkRecord: rec,
			IsExpired:  rec.IsExpired(now),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Token < result[j].Token
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// DeleteLink удаляет ссылку владельца.
// Проверка владельца выполняется даже при неугадываемых токенах.
func (r *Registry) DeleteLink(owner Owner, tok string) error {
	rec, err := r.store.Read(tok)
	if err != nil {
		if errors.Is(err, linkstore.ErrNotFound) || errors.Is(err, linkstore.ErrInvalidToken) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка чтения записи: %w", err)
	}
	if rec.OwnerID != owner.ID {
		r.logger.Warn("Попытка удаления чужой ссылки",
			slog.String("token", tok),
			slog.String("owner_id", owner.ID),
			slog.String("record_owner_id", rec.OwnerID),
		)
		return ErrPermissionDenied
	}
	if err := r.store.Delete(tok); err != nil {
		if errors.Is(err, linkstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}

	r.logger.Info("Ссылка удалена",
		slog.String("token", tok),
		slog.String("owner_id", owner.ID),
	)
	return nil
}

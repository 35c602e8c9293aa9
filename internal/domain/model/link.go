// Пакет model — доменные модели Publink.
// LinkRecord — единая структура публичной ссылки, используется
// как in-memory представление и как формат JSON-файла на диске.
package model

import (
	"encoding/json"
	"time"
)

// LinkType — тип доступа к ссылке.
type LinkType string

const (
	// LinkPublic — ссылка доступна всем без аутентификации
	LinkPublic LinkType = "public"
	// LinkRegistered — требует аутентификации пользователя при скачивании
	LinkRegistered LinkType = "registered"
)

// Valid проверяет, что значение типа ссылки допустимо.
func (t LinkType) Valid() bool {
	return t == LinkPublic || t == LinkRegistered
}

// LinkRecord — запись публичной ссылки. Соответствует содержимому
// файла {token}.json в директории PL_LINKS_DIR.
//
// Токен входит и в имя файла, и в саму запись: имя файла — ключ
// адресации, поле — защита от подмены файла.
type LinkRecord struct {
	// Token — уникальный идентификатор ссылки (64 hex-символа, 256 бит)
	Token string `json:"token"`

	// OwnerID — идентификатор создателя ссылки. Неизменяем после создания.
	OwnerID string `json:"owner_id"`

	// OwnerName — отображаемое имя создателя (не используется в проверках прав)
	OwnerName string `json:"owner_name"`

	// FileRef — непрозрачный локатор файла (base64 относительного пути).
	// Разрешается в путь только в момент скачивания.
	FileRef string `json:"file_ref"`

	// RootPath — корневая директория (или bucket-префикс), относительно
	// которой разрешается FileRef
	RootPath string `json:"root_path"`

	// FileName — оригинальное имя файла для отображения и Content-Disposition
	FileName string `json:"file_name"`

	// FileSize — размер файла в байтах на момент создания ссылки
	FileSize int64 `json:"file_size"`

	// LinkType — public или registered
	LinkType LinkType `json:"link_type"`

	// WaitSeconds — обязательная задержка между просмотром и скачиванием
	WaitSeconds int `json:"wait_seconds"`

	// MaxDownloads — лимит скачиваний (0 = без лимита)
	MaxDownloads int `json:"max_downloads"`

	// DownloadCount — количество успешных скачиваний. Монотонно растёт,
	// увеличивается только после успешной отдачи файла.
	DownloadCount int `json:"download_count"`

	// CreatedAt — время создания (UTC)
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt — время истечения: created_at + expiration_minutes*60
	ExpiresAt time.Time `json:"expires_at"`

	// LastDownloadAt — время последнего успешного скачивания.
	// nil, если скачиваний ещё не было.
	LastDownloadAt *time.Time `json:"last_download_at,omitempty"`

	// AutoDeleteOnExpiry — удалять ли запись после истечения срока.
	// false оставляет запись на диске как след аудита; скачивание
	// при этом всё равно отклоняется.
	AutoDeleteOnExpiry bool `json:"auto_delete_on_expiry"`
}

// IsExpired проверяет, истёк ли срок действия ссылки.
func (l *LinkRecord) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LimitReached проверяет, исчерпан ли лимит скачиваний.
// MaxDownloads == 0 означает отсутствие лимита.
func (l *LinkRecord) LimitReached() bool {
	return l.MaxDownloads > 0 && l.DownloadCount >= l.MaxDownloads
}

// Remaining возвращает оставшееся время жизни ссылки.
// Отрицательные значения обрезаются до нуля.
func (l *LinkRecord) Remaining(now time.Time) time.Duration {
	d := l.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// linkRecordJSON — промежуточная структура десериализации.
// Опциональные поля — указатели, чтобы отличить "отсутствует"
// от нулевого значения и применить документированные значения
// по умолчанию (эволюция схемы: старые записи не имеют новых полей).
type linkRecordJSON struct {
	Token              string     `json:"token"`
	OwnerID            string     `json:"owner_id"`
	OwnerName          string     `json:"owner_name"`
	FileRef            string     `json:"file_ref"`
	RootPath           string     `json:"root_path"`
	FileName           string     `json:"file_name"`
	FileSize           int64      `json:"file_size"`
	LinkType           LinkType   `json:"link_type"`
	WaitSeconds        int        `json:"wait_seconds"`
	MaxDownloads       int        `json:"max_downloads"`
	DownloadCount      int        `json:"download_count"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	LastDownloadAt     *time.Time `json:"last_download_at"`
	AutoDeleteOnExpiry *bool      `json:"auto_delete_on_expiry"`
}

// DecodeLinkRecord десериализует запись ссылки из JSON, применяя
// значения по умолчанию для полей, отсутствующих в старых записях:
//   - auto_delete_on_expiry → true
//   - link_type             → public
func DecodeLinkRecord(data []byte) (*LinkRecord, error) {
	var raw linkRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	rec := &LinkRecord{
		Token:          raw.Token,
		OwnerID:        raw.OwnerID,
		OwnerName:      raw.OwnerName,
		FileRef:        raw.FileRef,
		RootPath:       raw.RootPath,
		FileName:       raw.FileName,
		FileSize:       raw.FileSize,
		LinkType:       raw.LinkType,
		WaitSeconds:    raw.WaitSeconds,
		MaxDownloads:   raw.MaxDownloads,
		DownloadCount:  raw.DownloadCount,
		CreatedAt:      raw.CreatedAt,
		ExpiresAt:      raw.ExpiresAt,
		LastDownloadAt: raw.LastDownloadAt,
	}

	if raw.AutoDeleteOnExpiry != nil {
		rec.AutoDeleteOnExpiry = *raw.AutoDeleteOnExpiry
	} else {
		rec.AutoDeleteOnExpiry = true
	}

	if rec.LinkType == "" {
		rec.LinkType = LinkPublic
	}

	return rec, nil
}

// Пакет linkstore — файловое хранилище записей публичных ссылок.
// Одна запись — один файл {token}.json в директории данных, сам файл
// является единственным источником истины для записи.
//
// Все операции записи атомарны: temp → fsync → rename. Создание —
// строго create-if-absent (temp → fsync → os.Link), никогда не
// перезаписывает существующую запись. Update — эксклюзивный
// read-modify-write под per-token мьютексом: конкурентные инкременты
// счётчика скачиваний не теряют обновлений. Delete держит тот же
// мьютекс, поэтому удаление окончательно.
package linkstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bigkaa/publink/internal/domain/model"
)

// RecordSuffix — суффикс файла записи ссылки.
const RecordSuffix = ".json"

// maxRecordSize — максимальный допустимый размер записи (4 КБ).
// Ограничение гарантирует атомарность записи.
const maxRecordSize = 4096

// tokenLength — длина токена в hex-символах (32 байта энтропии).
const tokenLength = 64

var (
	// ErrAlreadyExists — запись с таким токеном уже существует.
	// Отличимая ошибка: на ней построен retry-цикл минтера.
	ErrAlreadyExists = errors.New("запись с таким токеном уже существует")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrInvalidToken — токен не прошёл синтаксическую проверку.
	ErrInvalidToken = errors.New("недопустимый формат токена")
)

// Store — файловое хранилище записей ссылок.
type Store struct {
	// dir — директория хранения записей (PL_LINKS_DIR)
	dir    string
	logger *slog.Logger

	// muMap — per-token мьютексы для сериализации Update.
	// Операции над разными токенами полностью независимы.
	muMap sync.Map // token → *sync.Mutex
}

// New создаёт хранилище. Создаёт директорию данных, если она не существует.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию записей %s: %w", dir, err)
	}

	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "linkstore")),
	}, nil
}

// Dir возвращает путь к директории записей.
func (s *Store) Dir() string {
	return s.dir
}

// ValidToken проверяет синтаксис токена: ровно 64 hex-символа в нижнем
// регистре. Проверка выполняется до любой подстановки токена в путь —
// защита от path traversal через произвольный токен из запроса.
func ValidToken(token string) bool {
	if len(token) != tokenLength {
		return false
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// recordPath возвращает путь к файлу записи для токена.
func (s *Store) recordPath(token string) string {
	return filepath.Join(s.dir, token+RecordSuffix)
}

// lock возвращает мьютекс для токена, создавая его при первом обращении.
func (s *Store) lock(token string) *sync.Mutex {
	mu, _ := s.muMap.LoadOrStore(token, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create атомарно создаёт запись, только если записи с таким токеном
// ещё нет. Паттерн: JSON → уникальный temp файл → fsync → os.Link(temp, final).
// Hard link завершается EEXIST, если запись уже существует — в отличие
// от rename он никогда не перезаписывает цель. Temp файл уникален для
// каждого вызова: конкурентные Create одного токена не мешают друг другу.
func (s *Store) Create(rec *model.LinkRecord) error {
	if !ValidToken(rec.Token) {
		return ErrInvalidToken
	}

	data, err := encode(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, rec.Token+".create-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Link(tmpPath, s.recordPath(rec.Token)); err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ошибка создания записи %s: %w", rec.Token, err)
	}

	return nil
}

// Read читает и десериализует запись по токену.
// Возвращает ErrNotFound, если записи нет.
func (s *Store) Read(token string) (*model.LinkRecord, error) {
	if !ValidToken(token) {
		return nil, ErrInvalidToken
	}

	data, err := os.ReadFile(s.recordPath(token))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", token, err)
	}

	rec, err := model.DecodeLinkRecord(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи %s: %w", token, err)
	}

	return rec, nil
}

// Update выполняет атомарный read-modify-write записи под per-token
// мьютексом. Мутатор получает свежепрочитанную запись; ошибка мутатора
// отменяет запись на диск и возвращается вызывающему без изменений.
// Конкурентные Update одного токена сериализуются — инкремент счётчика
// скачиваний не теряет обновлений и видит актуальное значение.
func (s *Store) Update(token string, mutate func(*model.LinkRecord) error) (*model.LinkRecord, error) {
	if !ValidToken(token) {
		return nil, ErrInvalidToken
	}

	mu := s.lock(token)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.Read(token)
	if err != nil {
		return nil, err
	}

	if err := mutate(rec); err != nil {
		return nil, err
	}

	data, err := encode(rec)
	if err != nil {
		return nil, err
	}

	path := s.recordPath(token)
	tmpPath := path + ".tmp"

	if err := writeFileSync(tmpPath, data); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования записи %s: %w", token, err)
	}

	return rec, nil
}

// Delete удаляет запись. Возвращает ErrNotFound, если записи нет.
// Удаление держит тот же per-token мьютекс, что и Update: rename
// незавершённого Update не может вернуть на диск только что удалённую
// запись. Удаление окончательно.
func (s *Store) Delete(token string) error {
	if !ValidToken(token) {
		return ErrInvalidToken
	}

	mu := s.lock(token)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(s.recordPath(token))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления записи %s: %w", token, err)
	}

	// Мьютекс удалённого токена больше не нужен: токены не
	// переиспользуются, а Update несуществующей записи завершается
	// ErrNotFound до записи на диск. Без очистки muMap росла бы
	// на каждый когда-либо обновлённый токен до конца процесса.
	s.muMap.Delete(token)

	return nil
}

// Enumerate сканирует директорию и возвращает все читаемые записи.
// Снимок на момент вызова: записи, созданные или удалённые во время
// сканирования, могут как попасть в результат, так и нет.
// Нечитаемые и невалидные записи пропускаются с логированием —
// одна битая запись не прерывает перечисление остальных.
func (s *Store) Enumerate() ([]*model.LinkRecord, error) {
	pattern := filepath.Join(s.dir, "*"+RecordSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", s.dir, err)
	}

	var result []*model.LinkRecord
	for _, path := range matches {
		token := strings.TrimSuffix(filepath.Base(path), RecordSuffix)
		if !ValidToken(token) {
			// Посторонний файл в директории данных
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Запись пропущена: ошибка чтения",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
			continue
		}

		rec, err := model.DecodeLinkRecord(data)
		if err != nil {
			s.logger.Warn("Запись пропущена: невалидный JSON",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
			continue
		}

		result = append(result, rec)
	}

	return result, nil
}

// encode сериализует запись и проверяет ограничение размера.
func encode(rec *model.LinkRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	if len(data) > maxRecordSize {
		return nil, fmt.Errorf("размер записи (%d байт) превышает максимум (%d байт)", len(data), maxRecordSize)
	}
	return data, nil
}

// writeFileSync записывает данные во временный файл с fsync.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return nil
}

package token

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/publink/internal/domain/model"
	"github.com/bigkaa/publink/internal/storage/linkstore"
)

func newTestStore(t *testing.T) *linkstore.Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := linkstore.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	return store
}

func baseRecord() *model.LinkRecord {
	now := time.Now().UTC()
	return &model.LinkRecord{
		OwnerID:            "u1",
		FileName:           "a.pdf",
		LinkType:           model.LinkPublic,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Hour),
		AutoDeleteOnExpiry: true,
	}
}

func TestNewCandidate(t *testing.T) {
	c1, err := NewCandidate()
	if err != nil {
		t.Fatalf("ошибка генерации: %v", err)
	}
	if len(c1) != 64 {
		t.Errorf("длина токена: хотели 64, получили %d", len(c1))
	}
	if !linkstore.ValidToken(c1) {
		t.Errorf("кандидат не проходит ValidToken: %q", c1)
	}

	c2, err := NewCandidate()
	if err != nil {
		t.Fatalf("ошибка генерации: %v", err)
	}
	if c1 == c2 {
		t.Error("два кандидата подряд совпали")
	}
}

func TestMint(t *testing.T) {
	store := newTestStore(t)

	tok, err := Mint(store, nil, baseRecord(), DefaultMaxAttempts)
	if err != nil {
		t.Fatalf("ошибка чеканки: %v", err)
	}

	rec, err := store.Read(tok)
	if err != nil {
		t.Fatalf("запись не создана: %v", err)
	}
	if rec.Token != tok {
		t.Errorf("токен в записи не совпадает: %q != %q", rec.Token, tok)
	}
}

// TestMint_Unique проверяет, что токены уникальны среди всех когда-либо
// отчеканенных в хранилище.
func TestMint_Unique(t *testing.T) {
	store := newTestStore(t)
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		tok, err := Mint(store, nil, baseRecord(), DefaultMaxAttempts)
		if err != nil {
			t.Fatalf("ошибка чеканки %d: %v", i, err)
		}
		if seen[tok] {
			t.Fatalf("токен %q отчеканен дважды", tok)
		}
		seen[tok] = true
	}
}

// TestMint_RetriesOnCollision моделирует коллизии генератора:
// первые кандидаты уже заняты, чеканка продолжает до свободного.
func TestMint_RetriesOnCollision(t *testing.T) {
	store := newTestStore(t)

	taken := strings.Repeat("a", 64)
	free := strings.Repeat("b", 64)

	pre := baseRecord()
	pre.Token = taken
	if err := store.Create(pre); err != nil {
		t.Fatalf("ошибка предварительного создания: %v", err)
	}

	calls := 0
	gen := func() (string, error) {
		calls++
		if calls <= 3 {
			return taken, nil
		}
		return free, nil
	}

	tok, err := Mint(store, gen, baseRecord(), DefaultMaxAttempts)
	if err != nil {
		t.Fatalf("ошибка чеканки: %v", err)
	}
	if tok != free {
		t.Errorf("хотели %q, получили %q", free, tok)
	}
	if calls != 4 {
		t.Errorf("вызовов генератора: хотели 4, получили %d", calls)
	}
}

// TestMint_Exhaustion проверяет ErrExhausted при исчерпании попыток.
func TestMint_Exhaustion(t *testing.T) {
	store := newTestStore(t)

	taken := strings.Repeat("c", 64)
	pre := baseRecord()
	pre.Token = taken
	if err := store.Create(pre); err != nil {
		t.Fatalf("ошибка предварительного создания: %v", err)
	}

	calls := 0
	gen := func() (string, error) {
		calls++
		return taken, nil
	}

	if _, err := Mint(store, gen, baseRecord(), 5); !errors.Is(err, ErrExhausted) {
		t.Fatalf("хотели ErrExhausted, получили %v", err)
	}
	if calls != 5 {
		t.Errorf("вызовов генератора: хотели 5, получили %d", calls)
	}
}

// TestMint_GeneratorError проверяет немедленное прерывание при ошибке генератора.
func TestMint_GeneratorError(t *testing.T) {
	store := newTestStore(t)

	genErr := errors.New("нет энтропии")
	gen := func() (string, error) { return "", genErr }

	if _, err := Mint(store, gen, baseRecord(), DefaultMaxAttempts); !errors.Is(err, genErr) {
		t.Fatalf("хотели ошибку генератора, получили %v", err)
	}
}

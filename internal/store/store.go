package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Ошибки хранилища. Репозитории переводят их в доменные.
var (
	// ErrNotFound — запись отсутствует.
	ErrNotFound = errors.New("record not found")

	// ErrConditionFailed — предусловие одиночной записи не выполнено.
	ErrConditionFailed = errors.New("condition failed")

	// ErrTransactionCanceled — транзакция отклонена целиком: хотя бы одно
	// предусловие не выполнено, ни одна операция не применена.
	ErrTransactionCanceled = errors.New("transaction canceled")
)

// Ключи сортировки единой таблицы: у каждого пользователя один PROFILE
// и по записи на резервирование, захват отпечатка и видео.
const (
	SortProfile           = "PROFILE"
	SortReservationPrefix = "RESERVE#"
	SortHashPrefix        = "HASH#"
	SortVideoPrefix       = "VIDEO#"
)

func SortReservation(videoID string) string { return SortReservationPrefix + videoID }
func SortHash(fingerprint string) string    { return SortHashPrefix + fingerprint }
func SortVideo(videoID string) string       { return SortVideoPrefix + videoID }

// Key адресует одну запись: владелец + ключ сортировки.
type Key struct {
	Owner string
	Sort  string
}

// Attrs — атрибуты записи. Значения: string, int64, float64, bool.
// После прохода через JSON числа могут вернуться как float64 — читать
// их следует через типизированные геттеры.
type Attrs map[string]any

// Record — запись вместе со своим ключом (результат Query).
type Record struct {
	Key   Key
	Attrs Attrs
}

// String возвращает строковый атрибут либо "".
func (a Attrs) String(name string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return ""
}

// Int64 возвращает числовой атрибут, терпимо к float64/int/json.Number.
func (a Attrs) Int64(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// Float64 возвращает числовой атрибут как float64.
func (a Attrs) Float64(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// Time разбирает атрибут-время в формате RFC3339.
func (a Attrs) Time(name string) time.Time {
	s := a.String(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Clone делает глубокую копию атрибутов.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// InsertOp — вставка записи. При IfAbsent запись с таким ключом не должна
// существовать, иначе предусловие нарушено.
type InsertOp struct {
	Key      Key
	Attrs    Attrs
	IfAbsent bool
}

// UpdateOp — условное обновление существующей записи. Сначала проверяются
// Equals и AtLeast по текущим значениям, затем применяются Set и Add.
type UpdateOp struct {
	Key     Key
	Set     Attrs            // абсолютные значения
	Add     map[string]int64 // инкременты счетчиков (могут быть отрицательными)
	Equals  map[string]int64 // предусловие: точное совпадение счетчика
	AtLeast map[string]int64 // предусловие: счетчик не меньше порога
}

// DeleteOp — удаление записи. При MustExist отсутствие записи нарушает
// предусловие.
type DeleteOp struct {
	Key       Key
	MustExist bool
}

// Op — одна типизированная операция транзакции; заполнено ровно одно поле.
type Op struct {
	Insert *InsertOp
	Update *UpdateOp
	Delete *DeleteOp
}

// Store — транзакционное KV-хранилище: точечные чтения, условные одиночные
// записи (compare-and-swap) и транзакции всё-или-ничего с предусловиями
// на каждую операцию.
type Store interface {
	// Get возвращает атрибуты записи либо ErrNotFound.
	Get(ctx context.Context, key Key) (Attrs, error)

	// Query возвращает записи владельца с данным префиксом ключа сортировки,
	// упорядоченные по ключу.
	Query(ctx context.Context, owner, sortPrefix string) ([]Record, error)

	// Scan возвращает записи всех владельцев с данным префиксом ключа
	// сортировки. Полный проход по таблице — только для плановых задач.
	Scan(ctx context.Context, sortPrefix string) ([]Record, error)

	// Apply выполняет одну операцию; нарушение предусловия — ErrConditionFailed.
	Apply(ctx context.Context, op Op) error

	// Transact атомарно выполняет набор операций; нарушение любого
	// предусловия — ErrTransactionCanceled, ничего не применяется.
	Transact(ctx context.Context, ops ...Op) error
}

// checkGuards проверяет предусловия UpdateOp по текущим атрибутам.
func checkGuards(attrs Attrs, op *UpdateOp) bool {
	for name, want := range op.Equals {
		if attrs.Int64(name) != want {
			return false
		}
	}
	for name, min := range op.AtLeast {
		if attrs.Int64(name) < min {
			return false
		}
	}
	return true
}

// applyUpdate применяет Set и Add к копии атрибутов.
func applyUpdate(attrs Attrs, op *UpdateOp) Attrs {
	out := attrs.Clone()
	for name, value := range op.Set {
		out[name] = value
	}
	for name, delta := range op.Add {
		out[name] = out.Int64(name) + delta
	}
	return out
}

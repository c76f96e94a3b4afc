package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Проверка реализации интерфейса на этапе компиляции.
var _ Store = (*MemoryStore)(nil)

// MemoryStore — потокобезопасная реализация Store в памяти. Используется
// в тестах и как локальный бэкенд для разработки; семантика предусловий
// и транзакций совпадает с постоянными бэкендами.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[Key]Attrs
}

// NewMemoryStore создает пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[Key]Attrs)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Attrs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return attrs.Clone(), nil
}

func (s *MemoryStore) Query(_ context.Context, owner, sortPrefix string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []Record
	for key, attrs := range s.items {
		if key.Owner != owner || !strings.HasPrefix(key.Sort, sortPrefix) {
			continue
		}
		records = append(records, Record{Key: key, Attrs: attrs.Clone()})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key.Sort < records[j].Key.Sort
	})
	return records, nil
}

func (s *MemoryStore) Scan(_ context.Context, sortPrefix string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []Record
	for key, attrs := range s.items {
		if !strings.HasPrefix(key.Sort, sortPrefix) {
			continue
		}
		records = append(records, Record{Key: key, Attrs: attrs.Clone()})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Key.Owner != records[j].Key.Owner {
			return records[i].Key.Owner < records[j].Key.Owner
		}
		return records[i].Key.Sort < records[j].Key.Sort
	})
	return records, nil
}

func (s *MemoryStore) Apply(ctx context.Context, op Op) error {
	if err := s.Transact(ctx, op); err != nil {
		if err == ErrTransactionCanceled {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

func (s *MemoryStore) Transact(_ context.Context, ops ...Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Фаза 1: проверяем все предусловия, ничего не меняя.
	for _, op := range ops {
		switch {
		case op.Insert != nil:
			if op.Insert.IfAbsent {
				if _, exists := s.items[op.Insert.Key]; exists {
					return ErrTransactionCanceled
				}
			}
		case op.Update != nil:
			attrs, exists := s.items[op.Update.Key]
			if !exists {
				return ErrTransactionCanceled
			}
			if !checkGuards(attrs, op.Update) {
				return ErrTransactionCanceled
			}
		case op.Delete != nil:
			if _, exists := s.items[op.Delete.Key]; !exists && op.Delete.MustExist {
				return ErrTransactionCanceled
			}
		}
	}

	// Фаза 2: применяем под тем же захватом мьютекса.
	for _, op := range ops {
		switch {
		case op.Insert != nil:
			s.items[op.Insert.Key] = op.Insert.Attrs.Clone()
		case op.Update != nil:
			s.items[op.Update.Key] = applyUpdate(s.items[op.Update.Key], op.Update)
		case op.Delete != nil:
			delete(s.items, op.Delete.Key)
		}
	}
	return nil
}

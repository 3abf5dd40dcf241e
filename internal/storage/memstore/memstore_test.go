package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

// TestLoad проверяет замену содержимого хранилища.
func TestLoad(t *testing.T) {
	s := New()
	s.Insert(context.Background(), model.NewPlaceholder("old", "old", nil, time.Now()))

	s.Load([]*model.FileRecord{
		model.NewPlaceholder("a", "a", nil, time.Now()),
		model.NewPlaceholder("b", "b", nil, time.Now()),
	})

	if s.Count() != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", s.Count())
	}
	if _, err := s.Get(context.Background(), "old"); err == nil {
		t.Error("запись old должна исчезнуть после Load")
	}
}

// Пакет storetest — общий набор проверок для реализаций store.Store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// Factory создаёт пустое хранилище для одного подтеста.
type Factory func(t *testing.T) store.Store

// Run выполняет все проверки контракта store.Store.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("InsertConflict", func(t *testing.T) { testInsertConflict(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("UpdateCloseFlow", func(t *testing.T) { testUpdateCloseFlow(t, newStore(t)) })
	t.Run("UpdateNotFound", func(t *testing.T) { testUpdateNotFound(t, newStore(t)) })
	t.Run("UpdateAbort", func(t *testing.T) { testUpdateAbort(t, newStore(t)) })
	t.Run("UpdateInvalid", func(t *testing.T) { testUpdateInvalid(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListOrder", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("CopiesAreIndependent", func(t *testing.T) { testCopies(t, newStore(t)) })
	t.Run("ConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(t, newStore(t)) })
}

func placeholder(id string, at time.Time) *model.FileRecord {
	return model.NewPlaceholder(id, id, nil, at)
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := "alice"
	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	rec := model.NewPlaceholder("a.dat", "a.dat", &user, time.Now())
	rec.ExpiresAt = &exp
	rec.Reserved = true

	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Get(ctx, "a.dat")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "a.dat" || got.Created || got.Ready || !got.Reserved {
		t.Errorf("неожиданная запись: %+v", got)
	}
	if got.User == nil || *got.User != "alice" {
		t.Errorf("User: ожидалось alice, получено %v", got.User)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt: ожидалось %v, получено %v", exp, got.ExpiresAt)
	}
	if got.Size != nil {
		t.Errorf("Size должен быть nil, получено %v", *got.Size)
	}
}

func testInsertConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, placeholder("x", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, placeholder("x", time.Now()))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("ожидалась ErrConflict, получено %v", err)
	}
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

func testUpdateCloseFlow(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, placeholder("x", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := s.Update(ctx, "x", func(r *model.FileRecord) error {
		r.Created = true
		return nil
	}); err != nil {
		t.Fatalf("Update(created): %v", err)
	}
	updated, err := s.Update(ctx, "x", func(r *model.FileRecord) error {
		r.MarkReady(11)
		return nil
	})
	if err != nil {
		t.Fatalf("Update(ready): %v", err)
	}
	if !updated.Ready || updated.Size == nil || *updated.Size != 11 {
		t.Errorf("Update должен вернуть новую версию: %+v", updated)
	}

	got, _ := s.Get(ctx, "x")
	if !got.Created || !got.Ready || got.Size == nil || *got.Size != 11 {
		t.Errorf("ожидалось created=true ready=true size=11: %+v", got)
	}
}

func testUpdateNotFound(t *testing.T, s store.Store) {
	called := false
	_, err := s.Update(context.Background(), "missing", func(*model.FileRecord) error {
		called = true
		return nil
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
	if called {
		t.Error("функция обновления не должна вызываться для отсутствующей записи")
	}
}

func testUpdateAbort(t *testing.T, s store.Store) {
	ctx := context.Background()
	s.Insert(ctx, placeholder("x", time.Now()))

	abort := errors.New("abort")
	_, err := s.Update(ctx, "x", func(r *model.FileRecord) error {
		r.Created = true
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("ожидалась ошибка функции обновления, получено %v", err)
	}
	got, _ := s.Get(ctx, "x")
	if got.Created {
		t.Error("отменённое обновление не должно сохраняться")
	}
}

func testUpdateInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	s.Insert(ctx, placeholder("x", time.Now()))

	_, err := s.Update(ctx, "x", func(r *model.FileRecord) error {
		r.Ready = true
		return nil
	})
	if err == nil {
		t.Fatal("ожидалась ошибка валидации для ready без size")
	}
	got, _ := s.Get(ctx, "x")
	if got.Ready {
		t.Error("невалидное обновление не должно сохраняться")
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	s.Insert(ctx, placeholder("x", time.Now()))

	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("запись должна быть удалена, Get вернул %v", err)
	}
	if err := s.Delete(ctx, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
}

func testListOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := s.Insert(ctx, placeholder(fmt.Sprintf("f%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ожидалось 3 записи, получено %d", len(list))
	}
	if list[0].ID != "f2" || list[2].ID != "f0" {
		t.Errorf("ожидался порядок f2, f1, f0, получено %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func testCopies(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := placeholder("x", time.Now())
	s.Insert(ctx, rec)
	rec.Created = true

	got, _ := s.Get(ctx, "x")
	if got.Created {
		t.Fatal("изменение вставленного объекта не должно влиять на хранилище")
	}
	got.Created = true
	again, _ := s.Get(ctx, "x")
	if again.Created {
		t.Fatal("изменение результата Get не должно влиять на хранилище")
	}
}

func testConcurrentUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	s.Insert(ctx, placeholder("x", time.Now()))

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(size int64) {
			defer wg.Done()
			if _, err := s.Update(ctx, "x", func(r *model.FileRecord) error {
				r.MarkReady(size)
				return nil
			}); err != nil {
				t.Errorf("Update: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	got, _ := s.Get(ctx, "x")
	if !got.Ready || got.Size == nil || *got.Size < 1 || *got.Size > 10 {
		t.Errorf("неожиданное итоговое состояние: %+v", got)
	}
}

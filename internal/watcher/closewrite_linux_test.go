//go:build linux

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
)

// TestUpload_StalledWriterNoEarlyClose: пауза в записи дольше SettleDelay
// при открытом файле не даёт close; close приходит после закрытия
// с итоговым размером.
func TestUpload_StalledWriterNoEarlyClose(t *testing.T) {
	filesDir, _, c := startWatcher(t, false, nil)

	f, err := os.Create(filepath.Join(filesDir, "big"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(3 * testSettle)

	if _, ok := c.find(event.ActionClose, "big"); ok {
		t.Fatal("close не ожидается, пока файл открыт на запись")
	}

	if _, err := f.Write([]byte("def")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	require.Eventually(t, func() bool {
		_, ok := c.find(event.ActionClose, "big")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(2 * testSettle)

	if n := c.count(event.ActionClose, "big"); n != 1 {
		t.Errorf("ожидалось одно событие close, получено %d", n)
	}
	ev, _ := c.find(event.ActionClose, "big")
	if size := ev.(event.Close).File.Size; size != 6 {
		t.Errorf("ожидался размер 6, получено %d", size)
	}
}

// TestUpload_MovedInCreateThenClose: перемещённый в директорию загрузок
// файл даёт create и close сразу.
func TestUpload_MovedInCreateThenClose(t *testing.T) {
	filesDir, _, c := startWatcher(t, false, nil)

	staged := filepath.Join(t.TempDir(), "moved")
	if err := os.WriteFile(staged, []byte("12345"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Rename(staged, filepath.Join(filesDir, "moved")); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	require.Eventually(t, func() bool {
		_, ok := c.find(event.ActionClose, "moved")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	var actions []event.Action
	for _, ev := range c.snapshot() {
		if ev.Key() == "moved" {
			actions = append(actions, ev.Action())
		}
	}
	if len(actions) != 2 || actions[0] != event.ActionCreate || actions[1] != event.ActionClose {
		t.Errorf("ожидалось create, close; получено %v", actions)
	}
}

func TestNoticeOps(t *testing.T) {
	tests := []struct {
		name    string
		mask    uint32
		uploads bool
		want    []fileOp
	}{
		{"create", 0x100, true, []fileOp{opCreate}},
		{"modify", 0x2, true, []fileOp{opWrite}},
		{"close_write", 0x8, true, []fileOp{opCloseWrite}},
		{"moved_to", 0x80, true, []fileOp{opCreate, opCloseWrite}},
		{"delete", 0x200, true, []fileOp{opRemove}},
		{"moved_from", 0x40, true, []fileOp{opRemove}},
		{"watch close_write", 0x8, false, []fileOp{opCloseWrite}},
		{"watch moved_to", 0x80, false, []fileOp{opCloseWrite}},
		{"watch create", 0x100, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := noticeOps(tt.mask, tt.uploads)
			if len(got) != len(tt.want) {
				t.Fatalf("noticeOps = %v, ожидалось %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("noticeOps = %v, ожидалось %v", got, tt.want)
				}
			}
		})
	}
}

//go:build unix

package main

import "testing"

func TestGetDiskUsage(t *testing.T) {
	total, used, available, err := getDiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("getDiskUsage: %v", err)
	}
	if total <= 0 {
		t.Errorf("total = %d, ожидалось > 0", total)
	}
	if used < 0 || available < 0 || used+available > total {
		t.Errorf("used (%d) + available (%d) больше total (%d)", used, available, total)
	}
}

func TestGetDiskUsage_MissingDir(t *testing.T) {
	if _, _, _, err := getDiskUsage("/nonexistent/dir"); err == nil {
		t.Fatal("ожидалась ошибка для несуществующей директории")
	}
}

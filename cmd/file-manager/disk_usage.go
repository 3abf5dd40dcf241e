//go:build unix

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// getDiskUsage — ёмкость файловой системы FM_FILES_DIR для /api/v1/system.
// used считается как в df: занятые блоки, включая резерв root, поэтому
// used+available может быть меньше total.
func getDiskUsage(path string) (total, used, available int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := int64(st.Bsize)
	total = int64(st.Blocks) * bsize
	used = (int64(st.Blocks) - int64(st.Bfree)) * bsize
	available = int64(st.Bavail) * bsize
	return total, used, available, nil
}

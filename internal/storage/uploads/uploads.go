// Пакет uploads — операции с физическими файлами директории загрузок:
// перечисление, размер, удаление и импорт файлов из watch-директории.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/storage/atomicfile"
)

// ErrExists — файл с таким именем уже существует в директории загрузок.
var ErrExists = errors.New("файл уже существует")

// Dir — директория загрузок.
type Dir struct {
	path string
}

// Entry — файл в директории загрузок.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Open открывает существующую директорию загрузок и проверяет
// доступность на запись.
func Open(path string) (*Dir, error) {
	if err := atomicfile.CheckWritable(path); err != nil {
		return nil, fmt.Errorf("директория загрузок: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path возвращает путь к директории.
func (d *Dir) Path() string {
	return d.path
}

// FullPath возвращает абсолютный путь к файлу.
func (d *Dir) FullPath(name string) string {
	return filepath.Join(d.path, name)
}

// List возвращает обычные файлы директории (без рекурсии), отсортированные по имени.
// Файлы, исчезнувшие во время обхода, пропускаются.
func (d *Dir) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", d.path, err)
	}

	result := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		result = append(result, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Exists проверяет существование файла.
func (d *Dir) Exists(name string) (bool, error) {
	_, err := os.Stat(d.FullPath(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
}

// Size возвращает размер файла.
func (d *Dir) Size(name string) (int64, error) {
	info, err := os.Stat(d.FullPath(name))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}
	return info.Size(), nil
}

// Remove удаляет файл. Отсутствие файла — не ошибка.
func (d *Dir) Remove(name string) error {
	err := os.Remove(d.FullPath(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// RemovePartial удаляет файл и остаток незавершённого копирования.
func (d *Dir) RemovePartial(name string) error {
	if err := d.Remove(name + atomicfile.TempSuffix); err != nil {
		return err
	}
	return d.Remove(name)
}

// Import переносит src в директорию загрузок под именем name и
// возвращает итоговый размер. Существующий файл не перезаписывается.
//
// В пределах одной файловой системы — rename. Между файловыми системами —
// копирование во временный файл → fsync → rename → удаление исходного.
func (d *Dir) Import(src, name string) (int64, error) {
	dst := d.FullPath(name)

	exists, err := d.Exists(name)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("%s: %w", name, ErrExists)
	}

	if err := os.Rename(src, dst); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return 0, fmt.Errorf("ошибка переноса %s: %w", src, err)
		}
		if err := copyFile(src, dst); err != nil {
			return 0, err
		}
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("ошибка удаления исходного файла %s: %w", src, err)
		}
	}

	return d.Size(name)
}

// copyFile копирует src в dst через временный файл.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("ошибка открытия %s: %w", src, err)
	}
	defer in.Close()

	tmpPath := dst + atomicfile.TempSuffix
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка копирования данных: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// IsTemp проверяет, является ли имя временным файлом незавершённого копирования.
func IsTemp(name string) bool {
	return strings.HasSuffix(name, atomicfile.TempSuffix)
}

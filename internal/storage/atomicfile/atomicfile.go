// Пакет atomicfile — атомарная запись небольших файлов состояния.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
)

// TempSuffix — суффикс временного файла. Файлы с этим суффиксом
// считаются мусором незавершённой записи.
const TempSuffix = ".tmp"

// Write атомарно записывает data в path.
// Паттерн: temp файл → fsync → atomic rename.
func Write(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + TempSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// WriteJSON сериализует v с отступами и атомарно записывает в path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	return Write(path, data, 0o640)
}

// ReadJSON читает JSON-документ из path в v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации: %w", err)
	}
	return nil
}

// CheckWritable проверяет, что dir существует и доступна для записи.
func CheckWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("директория %s недоступна: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", dir)
	}
	f, err := os.CreateTemp(dir, ".write_test_*")
	if err != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

package uploads

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNameExhausted — не удалось подобрать свободное имя за отведённое число попыток.
var ErrNameExhausted = errors.New("не удалось подобрать уникальное имя")

// maxNameLen — ограничение длины санитизированного имени.
const maxNameLen = 100

// TakenFunc сообщает, занят ли ключ (в хранилище записей или на диске).
type TakenFunc func(name string) (bool, error)

// Allocator выделяет уникальные имена для импортируемых файлов.
// Формат: {prefix}-{имя}, например a1b2c3d4-sample.fq.gz.
// Занятое имя никогда не перезаписывается: выбирается новый префикс.
type Allocator struct {
	// Prefix возвращает случайный префикс. По умолчанию — первые 8 символов UUID v4.
	Prefix func() string
	// MaxAttempts — число попыток. По умолчанию 8.
	MaxAttempts int
}

// Allocate возвращает свободное имя для оригинального имени файла.
func (a Allocator) Allocate(original string, taken TakenFunc) (string, error) {
	prefix := a.Prefix
	if prefix == nil {
		prefix = func() string { return uuid.New().String()[:8] }
	}
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = 8
	}

	base := Sanitize(original)
	for i := 0; i < attempts; i++ {
		name := prefix() + "-" + base
		busy, err := taken(name)
		if err != nil {
			return "", fmt.Errorf("ошибка проверки имени %s: %w", name, err)
		}
		if !busy {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w для %q за %d попыток", ErrNameExhausted, original, attempts)
}

// Sanitize убирает небезопасные символы из имени файла.
// Оставляет буквы, цифры, дефис, подчёркивание и точку; ведущие точки
// удаляются. Длинные имена обрезаются с сохранением расширения.
func Sanitize(s string) string {
	s = filepath.Base(s)

	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}

	name := strings.TrimLeft(result.String(), ".")
	if name == "" {
		return "file"
	}

	if len(name) > maxNameLen {
		ext := fullExt(name)
		if len(ext) >= maxNameLen {
			ext = ""
		}
		stem := strings.TrimSuffix(name, ext)
		stem = truncateRunes(stem, maxNameLen-len(ext))
		name = stem + ext
	}
	return name
}

// fullExt возвращает составное расширение: ".fq.gz" для "x.fq.gz".
func fullExt(name string) string {
	ext := filepath.Ext(name)
	if ext == ".gz" || ext == ".bz2" || ext == ".xz" || ext == ".zst" {
		ext = filepath.Ext(strings.TrimSuffix(name, ext)) + ext
	}
	return ext
}

// truncateRunes обрезает строку до n байт, не разрывая руны.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

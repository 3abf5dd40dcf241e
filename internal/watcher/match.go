package watcher

import (
	"path/filepath"
	"strings"
)

// Matcher распознаёт файлы прочтений по расширению.
type Matcher struct {
	exts []string
}

// NewMatcher создаёт Matcher. Расширения сравниваются без учёта регистра.
func NewMatcher(exts []string) Matcher {
	m := Matcher{exts: make([]string, 0, len(exts))}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		m.exts = append(m.exts, ext)
	}
	return m
}

// Match проверяет, является ли имя файлом прочтений.
// Скрытые файлы (с ведущей точкой) не считаются файлами прочтений.
func (m Matcher) Match(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	lower := strings.ToLower(base)
	for _, ext := range m.exts {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}

// Пакет model — доменные модели File Manager.
// FileRecord — единая структура записи о файле, используется
// как in-memory представление, как JSON-документ fs-хранилища
// и как строка таблицы file_records.
package model

import (
	"errors"
	"fmt"
	"time"
)

// FileType — классификация файла.
type FileType string

const (
	// TypeUnclassified — файл, загруженный напрямую через API
	TypeUnclassified FileType = ""
	// TypeReads — файл прочтений, импортированный из watch-директории
	TypeReads FileType = "reads"
)

// FileRecord — запись о файле в директории загрузок.
type FileRecord struct {
	// ID — ключ записи и имя файла на диске в директории загрузок.
	// Для импортированных файлов содержит уникальный префикс.
	ID string `json:"id"`

	// Name — оригинальное имя файла
	Name string `json:"name"`

	// Type — классификация файла
	Type FileType `json:"type"`

	// Size — размер в байтах. nil, пока запись файла не завершена.
	Size *int64 `json:"size"`

	// Created — файл начал записываться и существует на диске
	Created bool `json:"created"`

	// Ready — запись завершена, Size достоверен
	Ready bool `json:"ready"`

	// Reserved — файл закреплён другой подсистемой и не удаляется по сроку
	Reserved bool `json:"reserved"`

	// UploadedAt — время создания записи (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// ExpiresAt — срок хранения. nil — бессрочно.
	ExpiresAt *time.Time `json:"expires_at"`

	// User — идентификатор владельца. nil для системных и импортированных файлов.
	User *string `json:"user"`
}

// NewPlaceholder создаёт запись-заготовку, которую API-слой вставляет
// до начала записи байтов в директорию загрузок.
func NewPlaceholder(id, name string, user *string, now time.Time) *FileRecord {
	return &FileRecord{
		ID:         id,
		Name:       name,
		Type:       TypeUnclassified,
		UploadedAt: now.UTC(),
		User:       user,
	}
}

// NewReadsImport создаёт запись для файла прочтений из watch-директории.
func NewReadsImport(id, name string, now time.Time) *FileRecord {
	return &FileRecord{
		ID:         id,
		Name:       name,
		Type:       TypeReads,
		UploadedAt: now.UTC(),
	}
}

// IsExpired проверяет, истёк ли срок хранения файла.
func (r *FileRecord) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return now.After(*r.ExpiresAt)
}

// MarkReady помечает запись завершённой с итоговым размером.
// Завершённая запись всегда считается созданной.
func (r *FileRecord) MarkReady(size int64) {
	r.Created = true
	r.Ready = true
	r.Size = &size
}

// Clone возвращает глубокую копию записи.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	if r.Size != nil {
		size := *r.Size
		c.Size = &size
	}
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	if r.User != nil {
		user := *r.User
		c.User = &user
	}
	return &c
}

// Validate проверяет инварианты записи.
func (r *FileRecord) Validate() error {
	if r.ID == "" {
		return errors.New("пустой id записи")
	}
	if r.Ready && r.Size == nil {
		return fmt.Errorf("запись %s: ready без size", r.ID)
	}
	if r.Ready && !r.Created {
		return fmt.Errorf("запись %s: ready без created", r.ID)
	}
	if r.Size != nil && *r.Size < 0 {
		return fmt.Errorf("запись %s: отрицательный size %d", r.ID, *r.Size)
	}
	return nil
}

// Пакет journal — файловый журнал импорта файлов из watch-директории.
// Каждая транзакция — отдельный файл {tx_id}.journal.json в поддиректории
// journal/ директории состояния. Незавершённые транзакции после падения
// откатываются при старте.
package journal

import (
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpImport — перенос файла прочтений из watch-директории в директорию загрузок
	OpImport OperationType = "import"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// FileID — id записи и имя файла в директории загрузок
	FileID string `json:"file_id"`

	// Source — имя исходного файла в watch-директории
	Source string `json:"source"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const fileSuffix = ".journal.json"

// entryFileName возвращает имя файла журнала для данной транзакции.
func entryFileName(txID string) string {
	return txID + fileSuffix
}

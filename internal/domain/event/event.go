// Пакет event — события Watcher.
//
// Event — закрытый набор вариантов (Alive, Create, Modify, Close, Delete, Watch).
// Потребитель разбирает событие через type switch; неизвестное действие
// на проводе — ошибка декодирования, а не молчаливый no-op.
package event

import "time"

// Action — имя действия на проводе.
type Action string

const (
	ActionAlive  Action = "alive"
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionClose  Action = "close"
	ActionDelete Action = "delete"
	ActionWatch  Action = "watch"
)

// File — описание файла в событии.
type File struct {
	Filename string
	Size     int64
	Modified time.Time
}

// Event — событие Watcher. Реализуется только типами этого пакета.
type Event interface {
	// Action возвращает имя действия.
	Action() Action
	// Key возвращает имя файла, по которому упорядочивается обработка.
	// Для Alive — пустая строка.
	Key() string

	sealed()
}

// Alive — сигнал готовности Watcher. Отправляется ровно один раз,
// до любого другого события.
type Alive struct{}

// Create — файл появился в директории загрузок.
type Create struct{ File File }

// Modify — в файл директории загрузок записаны данные.
type Modify struct{ File File }

// Close — запись файла в директории загрузок завершена.
type Close struct{ File File }

// Delete — файл удалён из директории загрузок.
type Delete struct{ Filename string }

// Watch — в watch-директории появился полностью записанный файл прочтений.
type Watch struct{ File File }

func (Alive) Action() Action  { return ActionAlive }
func (Create) Action() Action { return ActionCreate }
func (Modify) Action() Action { return ActionModify }
func (Close) Action() Action  { return ActionClose }
func (Delete) Action() Action { return ActionDelete }
func (Watch) Action() Action  { return ActionWatch }

func (Alive) Key() string    { return "" }
func (e Create) Key() string { return e.File.Filename }
func (e Modify) Key() string { return e.File.Filename }
func (e Close) Key() string  { return e.File.Filename }
func (e Delete) Key() string { return e.Filename }
func (e Watch) Key() string  { return e.File.Filename }

func (Alive) sealed()  {}
func (Create) sealed() {}
func (Modify) sealed() {}
func (Close) sealed()  {}
func (Delete) sealed() {}
func (Watch) sealed()  {}

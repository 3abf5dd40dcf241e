package watcher

// fileOp — операция над файлом директории загрузок.
type fileOp uint8

const (
	opCreate fileOp = iota + 1
	opWrite
	opCloseWrite
	opRemove
)

// fileNotice — уведомление бэкенда close-write.
type fileNotice struct {
	Path string
	Op   fileOp
}

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownAction — действие на проводе не соответствует ни одному варианту.
var ErrUnknownAction = errors.New("неизвестное действие")

// wireFile — описание файла на проводе.
// Для delete передаётся только filename.
type wireFile struct {
	Filename string     `json:"filename"`
	Size     *int64     `json:"size,omitempty"`
	Modify   *time.Time `json:"modify,omitempty"`
}

// wireMessage — сообщение на проводе: {"action": ..., "file": {...}}.
type wireMessage struct {
	Action Action    `json:"action"`
	File   *wireFile `json:"file,omitempty"`
}

func toWire(f File) *wireFile {
	size := f.Size
	wf := &wireFile{Filename: f.Filename, Size: &size}
	if !f.Modified.IsZero() {
		mod := f.Modified.UTC()
		wf.Modify = &mod
	}
	return wf
}

func fromWire(wf *wireFile) (File, error) {
	if wf == nil || wf.Filename == "" {
		return File{}, errors.New("отсутствует file.filename")
	}
	f := File{Filename: wf.Filename}
	if wf.Size != nil {
		f.Size = *wf.Size
	}
	if wf.Modify != nil {
		f.Modified = *wf.Modify
	}
	return f, nil
}

// Marshal кодирует событие в JSON.
func Marshal(e Event) ([]byte, error) {
	msg := wireMessage{Action: e.Action()}
	switch ev := e.(type) {
	case Alive:
	case Create:
		msg.File = toWire(ev.File)
	case Modify:
		msg.File = toWire(ev.File)
	case Close:
		msg.File = toWire(ev.File)
	case Watch:
		msg.File = toWire(ev.File)
	case Delete:
		msg.File = &wireFile{Filename: ev.Filename}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, e)
	}
	return json.Marshal(msg)
}

// Unmarshal декодирует событие из JSON.
func Unmarshal(data []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("ошибка разбора события: %w", err)
	}

	if msg.Action == ActionAlive {
		return Alive{}, nil
	}

	switch msg.Action {
	case ActionCreate, ActionModify, ActionClose, ActionWatch, ActionDelete:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}

	f, err := fromWire(msg.File)
	if err != nil {
		return nil, fmt.Errorf("событие %s: %w", msg.Action, err)
	}

	switch msg.Action {
	case ActionCreate:
		return Create{File: f}, nil
	case ActionModify:
		return Modify{File: f}, nil
	case ActionClose:
		return Close{File: f}, nil
	case ActionWatch:
		return Watch{File: f}, nil
	default:
		return Delete{Filename: f.Filename}, nil
	}
}

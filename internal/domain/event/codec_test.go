package event

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMarshal_Delete_OnlyFilename(t *testing.T) {
	data, err := Marshal(Delete{Filename: "a.dat"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"action":"delete","file":{"filename":"a.dat"}}`
	if string(data) != want {
		t.Errorf("ожидалось %s, получено %s", want, data)
	}
}

func TestMarshal_Alive(t *testing.T) {
	data, err := Marshal(Alive{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"action":"alive"}` {
		t.Errorf("неожиданное сообщение alive: %s", data)
	}
}

func TestMarshal_ZeroSizeIsKept(t *testing.T) {
	data, err := Marshal(Create{File: File{Filename: "x"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"size":0`) {
		t.Errorf("size=0 должен передаваться явно: %s", data)
	}
}

func TestRoundTrip_Close(t *testing.T) {
	mod := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Marshal(Close{File: File{Filename: "x", Size: 11, Modified: mod}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ev, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	c, ok := ev.(Close)
	if !ok {
		t.Fatalf("ожидался Close, получен %T", ev)
	}
	if c.File.Filename != "x" || c.File.Size != 11 || !c.File.Modified.Equal(mod) {
		t.Errorf("неожиданное содержимое: %+v", c.File)
	}
	if c.Key() != "x" {
		t.Errorf("Key: ожидалось x, получено %q", c.Key())
	}
}

func TestUnmarshal_Variants(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{`{"action":"alive"}`, ActionAlive},
		{`{"action":"create","file":{"filename":"x","size":0}}`, ActionCreate},
		{`{"action":"modify","file":{"filename":"x","size":4}}`, ActionModify},
		{`{"action":"close","file":{"filename":"x","size":11}}`, ActionClose},
		{`{"action":"delete","file":{"filename":"x"}}`, ActionDelete},
		{`{"action":"watch","file":{"filename":"r.fq","size":7}}`, ActionWatch},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			ev, err := Unmarshal([]byte(tt.in))
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if ev.Action() != tt.want {
				t.Errorf("ожидалось %s, получено %s", tt.want, ev.Action())
			}
		})
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		unknown bool
	}{
		{"неизвестное действие", `{"action":"rename","file":{"filename":"x"}}`, true},
		{"пустое действие", `{}`, true},
		{"без file", `{"action":"close"}`, false},
		{"пустое имя", `{"action":"close","file":{"filename":""}}`, false},
		{"не JSON", `alive`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.in))
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if errors.Is(err, ErrUnknownAction) != tt.unknown {
				t.Errorf("errors.Is(ErrUnknownAction) = %v, ожидалось %v (%v)", !tt.unknown, tt.unknown, err)
			}
		})
	}
}

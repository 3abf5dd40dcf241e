package uploads

import (
	"errors"
	"strings"
	"testing"
)

// sequence возвращает генератор префиксов из фиксированного списка.
func sequence(prefixes ...string) func() string {
	i := 0
	return func() string {
		p := prefixes[i%len(prefixes)]
		i++
		return p
	}
}

func TestAllocate_Free(t *testing.T) {
	a := Allocator{Prefix: sequence("aaaa1111")}
	name, err := a.Allocate("test.fq", func(string) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if name != "aaaa1111-test.fq" {
		t.Errorf("ожидалось aaaa1111-test.fq, получено %s", name)
	}
}

// TestAllocate_RenamesOnCollision проверяет выбор нового префикса при занятом имени.
func TestAllocate_RenamesOnCollision(t *testing.T) {
	a := Allocator{Prefix: sequence("aaaa1111", "bbbb2222")}
	taken := map[string]bool{"aaaa1111-test.fq": true}

	name, err := a.Allocate("test.fq", func(n string) (bool, error) { return taken[n], nil })
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if name != "bbbb2222-test.fq" {
		t.Errorf("ожидалось bbbb2222-test.fq, получено %s", name)
	}
}

func TestAllocate_Exhausted(t *testing.T) {
	a := Allocator{Prefix: sequence("same"), MaxAttempts: 3}
	calls := 0
	_, err := a.Allocate("x.fq", func(string) (bool, error) {
		calls++
		return true, nil
	})
	if !errors.Is(err, ErrNameExhausted) {
		t.Fatalf("ожидалась ErrNameExhausted, получено %v", err)
	}
	if calls != 3 {
		t.Errorf("ожидалось 3 попытки, получено %d", calls)
	}
}

func TestAllocate_TakenError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Allocator{}.Allocate("x.fq", func(string) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("ожидалась ошибка проверки, получено %v", err)
	}
}

func TestAllocate_DefaultPrefix(t *testing.T) {
	name, err := Allocator{}.Allocate("test.fq", func(string) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(name) != len("12345678-test.fq") || !strings.HasSuffix(name, "-test.fq") {
		t.Errorf("неожиданный формат имени: %s", name)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"test.fq", "test.fq"},
		{"sample 1.fastq.gz", "sample1.fastq.gz"},
		{"../../etc/passwd", "passwd"},
		{".hidden.fq", "hidden.fq"},
		{"образец.fq", "образец.fq"},
		{"***", "file"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitize_LongKeepsExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".fastq.gz"
	got := Sanitize(long)
	if len(got) > maxNameLen {
		t.Errorf("длина %d превышает %d", len(got), maxNameLen)
	}
	if !strings.HasSuffix(got, ".fastq.gz") {
		t.Errorf("расширение должно сохраниться: %s", got)
	}

	cyr := strings.Repeat("ж", 80) + ".fq"
	got = Sanitize(cyr)
	if !strings.HasSuffix(got, ".fq") || len(got) > maxNameLen {
		t.Errorf("неожиданный результат для кириллицы: %s (%d байт)", got, len(got))
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("руна разорвана при обрезке")
		}
	}
}

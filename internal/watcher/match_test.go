package watcher

import "testing"

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{".fq", "FASTQ", " .fq.gz ", ""})

	tests := []struct {
		name string
		want bool
	}{
		{"sample.fq", true},
		{"SAMPLE.FQ", true},
		{"run.fastq", true},
		{"run.fq.gz", true},
		{"/data/watch/run.fq", true},
		{".fq", false},
		{".hidden.fq", false},
		{"sample.fa", false},
		{"sample.fq.tmp", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.name); got != tt.want {
				t.Errorf("Match(%q) = %v, ожидалось %v", tt.name, got, tt.want)
			}
		})
	}
}

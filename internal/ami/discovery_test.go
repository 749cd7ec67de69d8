package ami

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

func TestSample(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 50, "short"},
		{"abcdef", 3, "abc"},
		{"ñandú", 4, "ñand"},
		{"日本語テキスト", 3, "日本語"},
	}
	for _, tt := range tests {
		if got := sample(tt.in, tt.n); got != tt.want {
			t.Errorf("sample(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestDiscovery_LogsValidSamples(t *testing.T) {
	var buf bytes.Buffer
	d := newDiscovery(zerolog.New(&buf).Level(zerolog.DebugLevel))

	d.observe(Message{Fields: []Field{
		{Key: "Event", Value: "QueueCallerJoin"},
		{Key: "CallerIDName", Value: strings.Repeat("é", 80)},
		{Key: "Secret", Value: "s3cret"},
	}})
	d.observe(Message{Fields: []Field{{Key: "Event", Value: "QueueCallerJoin"}}})

	logs := buf.String()
	if !utf8.ValidString(logs) {
		t.Fatalf("log output is not valid UTF-8: %q", logs)
	}
	if !strings.Contains(logs, `"sample":"`+strings.Repeat("é", 50)+`"`) {
		t.Errorf("expected a 50 character sample, logs:\n%s", logs)
	}
	if strings.Contains(logs, "s3cret") {
		t.Errorf("secret value logged:\n%s", logs)
	}
	if got := d.counts()["QueueCallerJoin"]; got != 2 {
		t.Errorf("counts = %d, want 2", got)
	}
}

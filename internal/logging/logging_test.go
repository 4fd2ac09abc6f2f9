package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)

	New("basis").Info("built design", "rows", 40)

	out := buf.String()
	if !strings.Contains(out, `"component":"basis"`) {
		t.Errorf("missing component attribute: %s", out)
	}
	if !strings.Contains(out, `"rows":40`) {
		t.Errorf("missing record attribute: %s", out)
	}
}

func TestInitLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelWarn, "text", &buf)

	New("replica").Info("suppressed")
	New("replica").Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

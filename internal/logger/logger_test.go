package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "warn", "text")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info", "text") })

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("below-level messages written: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") || !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("missing messages: %q", out)
	}
	if !strings.Contains(out, "logger_test.go") {
		t.Errorf("text format should include caller file: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "debug", "json")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info", "text") })

	Info("run %s completed", "abc")

	var line struct {
		Time  string `json:"time"`
		Level string `json:"level"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output is not JSON: %q (%v)", buf.String(), err)
	}
	if line.Level != "info" || line.Msg != "run abc completed" || line.Time == "" {
		t.Errorf("line = %+v", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel,
		"error": ErrorLevel, "bogus": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

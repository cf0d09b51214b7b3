package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("quiet")
	l.Info("quiet")
	l.Warn("loud")
	l.Error("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("below-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] loud") || !strings.Contains(out, "[ERROR] loud") {
		t.Errorf("expected warn and error output, got %q", out)
	}
}

func TestKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	l.Debug("submit", "channel", "mm2s", "bds", 3)

	if !strings.Contains(buf.String(), "submit channel=mm2s bds=3") {
		t.Errorf("key-value rendering wrong: %q", buf.String())
	}
}

func TestDanglingKeyIgnored(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	l.Info("msg", "lonely")

	if strings.Contains(buf.String(), "lonely") {
		t.Errorf("dangling key should be dropped: %q", buf.String())
	}
}

func TestDefaultLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("through default")
	if !strings.Contains(buf.String(), "through default") {
		t.Errorf("default logger not used: %q", buf.String())
	}
}

package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(LevelInfo)
	t.Cleanup(func() { Init(LevelOff) })

	Info("opened %s", "cam0")
	Verbose("hidden %d", 1)
	Trace("hidden too")

	got := buf.String()
	if !strings.Contains(got, "opened cam0") {
		t.Errorf("info line missing from %q", got)
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("verbose/trace lines should be filtered at level 1, got %q", got)
	}
}

func TestOffProducesNothing(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(LevelOff)

	Info("x")
	Warn("y")
	Error(errors.New("z"))

	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
	if Fmt("%d", 1) != "" {
		t.Error("Fmt should return empty string when disabled")
	}
}

func TestWarnAndError(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(LevelTrace)
	t.Cleanup(func() { Init(LevelOff) })

	Warn("flash mode %s unsupported", "redEye")
	Error(errors.New("device gone"))
	GPIO("WritePin", 17, true)

	got := buf.String()
	for _, want := range []string{"redEye", "device gone", "WritePin"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
	if !IsEnabled(LevelTrace) {
		t.Error("trace should be enabled")
	}
}

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"ERROR":    slog.LevelError,
		"warn":     slog.LevelWarn,
		" warning": slog.LevelWarn,
		"Info":     slog.LevelInfo,
		"debug":    slog.LevelDebug,
		"":         slog.LevelDebug,
	}
	for in, want := range cases {
		assert.Equal(t, want, LevelFromString(in), "level %q", in)
	}
}

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", "component", "runner")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "shown"))
	assert.Contains(t, out, "component=runner")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 300))

	long := strings.Repeat("x", 299) + "€tail"
	got := Truncate(long, 300)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", 299)+"€...", got)

	assert.Equal(t, "héll...", Truncate("héllo wörld", 4))
}

package obslog

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitFromEnvWritesFile(t *testing.T) {
	defer Set(nil)
	path := filepath.Join(t.TempDir(), "nested", "client.log")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", path)
	t.Setenv("LOG_FORMAT", "json")
	if err := InitFromEnv("client.log"); err != nil {
		t.Fatalf("InitFromEnv: %v", err)
	}
	L().Info("obslog_test")
	_ = L().Sync()
}

func TestOrFallsBackToGlobal(t *testing.T) {
	defer Set(nil)
	l := zap.NewExample()
	Set(l)
	if Or(nil) != l {
		t.Fatalf("Or(nil) should return the global logger")
	}
	other := zap.NewNop()
	if Or(other) != other {
		t.Fatalf("Or should prefer the explicit logger")
	}
}

package runtime

import (
	"os"
	"testing"
	"time"
)

func TestResolveInt(t *testing.T) {
	tests := []struct {
		name     string
		cfgValue int
		envValue string
		fallback int
		want     int
	}{
		{"cfg value wins", 42, "", 10, 42},
		{"env value wins when cfg is zero", 0, "99", 10, 99},
		{"fallback when both empty", 0, "", 10, 10},
		{"negative cfg falls through", -1, "", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_RESOLVE_INT", tt.envValue)
			} else {
				os.Unsetenv("TEST_RESOLVE_INT")
			}
			got := ResolveInt(tt.cfgValue, "TEST_RESOLVE_INT", tt.fallback)
			if got != tt.want {
				t.Errorf("ResolveInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveDuration(t *testing.T) {
	os.Unsetenv("TEST_RESOLVE_DUR")
	got := ResolveDuration(0, "TEST_RESOLVE_DUR", time.Second)
	if got != time.Second {
		t.Errorf("ResolveDuration() = %v, want fallback", got)
	}

	t.Setenv("TEST_RESOLVE_DUR", "30s")
	got = ResolveDuration(0, "TEST_RESOLVE_DUR", time.Second)
	if got != 30*time.Second {
		t.Errorf("ResolveDuration() = %v, want 30s", got)
	}
}

func TestResolveStringAndBool(t *testing.T) {
	os.Unsetenv("TEST_RESOLVE_STR")
	if got := ResolveString("", "TEST_RESOLVE_STR", "default"); got != "default" {
		t.Errorf("ResolveString() = %q, want default", got)
	}

	t.Setenv("TEST_RESOLVE_BOOL", "true")
	if !ResolveBool(false, "TEST_RESOLVE_BOOL") {
		t.Error("ResolveBool() should prefer explicit env override")
	}
}

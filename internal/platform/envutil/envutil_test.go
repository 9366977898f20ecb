package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("X_TIMEOUT", "45")
	if got := Duration("X_TIMEOUT", time.Second); got != 45*time.Second {
		t.Fatalf("seconds: want=%v got=%v", 45*time.Second, got)
	}
	t.Setenv("X_TIMEOUT", "1m30s")
	if got := Duration("X_TIMEOUT", time.Second); got != 90*time.Second {
		t.Fatalf("duration string: want=%v got=%v", 90*time.Second, got)
	}
	t.Setenv("X_TIMEOUT", "soon")
	if got := Duration("X_TIMEOUT", time.Second); got != time.Second {
		t.Fatalf("fallback: want=%v got=%v", time.Second, got)
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("X_BATCH", "250")
	if got := Int("X_BATCH", 10); got != 250 {
		t.Fatalf("Int: want=250 got=%d", got)
	}
	t.Setenv("X_BATCH", "many")
	if got := Int("X_BATCH", 10); got != 10 {
		t.Fatalf("Int fallback: want=10 got=%d", got)
	}
	t.Setenv("X_FLAG", "off")
	if Bool("X_FLAG", true) {
		t.Fatalf("Bool: want=false")
	}
	t.Setenv("X_FLAG", "")
	if !Bool("X_FLAG", true) {
		t.Fatalf("Bool default: want=true")
	}
}

package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForFile(t *testing.T, path string, want string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(path)
		if err == nil && string(b) == want {
			return string(b)
		}
		got = b
		time.Sleep(2 * time.Millisecond)
	}
	return string(got)
}

func TestLogFormatsMixedArguments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l := New(path)
	l.Log("x=% y=%\n", int32(42), float64(3.5))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "x=42 y=3.5\n" {
		t.Fatalf("got %q, want %q", got, "x=42 y=3.5\n")
	}
}

func TestPushStringExcludesTrailingNUL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l := New(path)
	l.PushString("ab\x00")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "ab" {
		t.Fatalf("got %q, want %q", got, "ab")
	}
}

func TestLogLiteralPercentOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l := New(path)
	l.Log("100%% done")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "100% done" {
		t.Fatalf("got %q, want %q", got, "100% done")
	}
}

func TestLogMissingArgumentPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l := New(path)
	defer l.Close()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on missing argument")
		}
	}()
	l.Log("x=%")
}

func TestLogExtraArgumentPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l := New(path)
	defer l.Close()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on extra argument")
		}
	}()
	l.Log("no args here", int32(1))
}

func TestPushBytesWritesEachByte(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l := New(path)
	l.PushBytes([]byte("ab"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got := waitForFile(t, path, "ab")
	if got != "ab" {
		t.Fatalf("got %q, want %q", got, "ab")
	}
}

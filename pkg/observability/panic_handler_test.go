package observability

import (
	"bytes"
	"errors"
	"testing"
)

func TestRecoverPanic(t *testing.T) {
	t.Run("recovers and logs the panic", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(ErrorLevel, &buf)

		func() {
			defer RecoverPanic(logger, "assignment sweep")
			panic("unexpected nil role")
		}()

		entry := parseEntry(t, buf.Bytes())
		if entry["msg"] != "Recovered from panic" {
			t.Errorf("unexpected message: %v", entry["msg"])
		}
		if entry["panic"] != "unexpected nil role" {
			t.Errorf("unexpected panic field: %v", entry["panic"])
		}
		if entry["operation"] != "assignment sweep" {
			t.Errorf("unexpected operation field: %v", entry["operation"])
		}
		if stack, ok := entry["stack"].(string); !ok || stack == "" {
			t.Error("expected a stack trace")
		}
	})

	t.Run("no panic produces no output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(ErrorLevel, &buf)

		func() {
			defer RecoverPanic(logger, "assignment sweep")
		}()

		if buf.Len() != 0 {
			t.Errorf("expected no log output, got %q", buf.String())
		}
	})

	t.Run("nil logger does not panic again", func(t *testing.T) {
		func() {
			defer RecoverPanic(nil, "audit prune")
			panic("boom")
		}()
	})
}

func TestRecoverPanicWithCallback(t *testing.T) {
	t.Run("callback runs after a panic", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(ErrorLevel, &buf)

		called := false
		func() {
			defer RecoverPanicWithCallback(logger, "cache refresh", func() { called = true })
			panic(errors.New("corrupt entry"))
		}()

		if !called {
			t.Error("expected callback to run")
		}
		entry := parseEntry(t, buf.Bytes())
		if entry["operation"] != "cache refresh" {
			t.Errorf("unexpected operation field: %v", entry["operation"])
		}
	})

	t.Run("callback does not run without a panic", func(t *testing.T) {
		called := false
		func() {
			defer RecoverPanicWithCallback(NewNopLogger(), "cache refresh", func() { called = true })
		}()

		if called {
			t.Error("callback should only run when a panic occurred")
		}
	})

	t.Run("nil callback is safe", func(t *testing.T) {
		func() {
			defer RecoverPanicWithCallback(NewNopLogger(), "cache refresh", nil)
			panic("boom")
		}()
	})
}

func TestMustRecover(t *testing.T) {
	t.Run("nil value returns nil", func(t *testing.T) {
		if err := MustRecover(nil); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("panic value becomes an error", func(t *testing.T) {
		var err error
		func() {
			defer func() {
				err = MustRecover(recover())
			}()
			panic("index out of range")
		}()

		if err == nil {
			t.Fatal("expected error")
		}
		if err.Error() != "panic: index out of range" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("error panic value is wrapped", func(t *testing.T) {
		var err error
		func() {
			defer func() {
				err = MustRecover(recover())
			}()
			panic(errors.New("store closed"))
		}()

		if err == nil || err.Error() != "panic: store closed" {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

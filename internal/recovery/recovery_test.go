package recovery

import (
	"bytes"
	"os"
	"os/exec"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// stubExit replaces os.Exit for the duration of the test.
func stubExit(t *testing.T) *int {
	t.Helper()
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })
	return &code
}

func captureLog(t *testing.T) *logtest.Hook {
	t.Helper()
	l, hook := logtest.NewNullLogger()
	SetLogger(l)
	t.Cleanup(func() { SetLogger(nil) })
	return hook
}

// TestHandlePanic_NoPanic verifies that HandlePanic does nothing when there's no panic
func TestHandlePanic_NoPanic(t *testing.T) {
	code := stubExit(t)
	hook := captureLog(t)

	func() {
		defer HandlePanic()
	}()

	if *code != -1 {
		t.Errorf("exit called with %d", *code)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("unexpected log entries: %d", len(hook.AllEntries()))
	}
}

// TestHandlePanicFunc_NoPanic verifies that cleanup only runs on panic
func TestHandlePanicFunc_NoPanic(t *testing.T) {
	stubExit(t)
	cleanupCalled := false

	func() {
		defer HandlePanicFunc(func() {
			cleanupCalled = true
		})
	}()

	if cleanupCalled {
		t.Error("cleanup was called without a panic")
	}
}

func TestHandlePanic_LogsAndExits(t *testing.T) {
	code := stubExit(t)
	hook := captureLog(t)

	func() {
		defer HandlePanic()
		panic("boom")
	}()

	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("no log entry")
	}
	if entry.Level != logrus.ErrorLevel {
		t.Errorf("level = %v, want error", entry.Level)
	}
	if entry.Data["panic"] != "boom" {
		t.Errorf("panic field = %v, want boom", entry.Data["panic"])
	}
	stack, _ := entry.Data["stack"].(string)
	if stack == "" {
		t.Error("stack field is empty")
	}
}

func TestHandlePanicFunc_CleanupBeforeExit(t *testing.T) {
	var order []string
	exit = func(int) { order = append(order, "exit") }
	t.Cleanup(func() { exit = os.Exit })
	captureLog(t)

	func() {
		defer HandlePanicFunc(func() { order = append(order, "cleanup") })
		panic("boom")
	}()

	if len(order) != 2 || order[0] != "cleanup" || order[1] != "exit" {
		t.Errorf("order = %v, want [cleanup exit]", order)
	}
}

// TestHandlePanicFunc_NilCleanup verifies that nil cleanup doesn't cause issues
func TestHandlePanicFunc_NilCleanup(t *testing.T) {
	code := stubExit(t)
	captureLog(t)

	func() {
		defer HandlePanicFunc(nil)
		panic("boom")
	}()

	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
}

func TestGo_RecoversInGoroutine(t *testing.T) {
	done := make(chan int, 1)
	exit = func(c int) { done <- c }
	t.Cleanup(func() { exit = os.Exit })
	captureLog(t)

	Go(func() { panic("worker") }, nil)

	if c := <-done; c != 1 {
		t.Errorf("exit code = %d, want 1", c)
	}
}

// TestHandlePanic_ExitsOnPanic uses a subprocess to check the real exit path
func TestHandlePanic_ExitsOnPanic(t *testing.T) {
	if os.Getenv("TEST_PANIC_EXIT") == "1" {
		defer HandlePanic()
		panic("test panic")
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestHandlePanic_ExitsOnPanic")
	cmd.Env = append(os.Environ(), "TEST_PANIC_EXIT=1")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ExitCode() != 1 {
			t.Errorf("exit code = %d, want 1", exitErr.ExitCode())
		}
	} else if err == nil {
		t.Error("expected process to exit with error, but it succeeded")
	}

	output := stderr.String()
	for _, want := range []string{"FATAL", "test panic", "stack="} {
		if !bytes.Contains([]byte(output), []byte(want)) {
			t.Errorf("stderr should contain %q, got: %s", want, output)
		}
	}
}

package console

import (
	"sync"
	"testing"
	"time"

	"github.com/rvkern/rvkern/internal/defs"
)

type nullSink struct{}

func (nullSink) Write(p []byte) (int, error) { return len(p), nil }

type testWaiter struct {
	mu     sync.Mutex
	killed bool
	hook   func()
}

func (w *testWaiter) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

func (w *testWaiter) OnKill(f func()) {
	w.mu.Lock()
	w.hook = f
	killed := w.killed
	w.mu.Unlock()
	if killed && f != nil {
		f()
	}
}

func (w *testWaiter) kill() {
	w.mu.Lock()
	w.killed = true
	hook := w.hook
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func TestFeedThenReadRoundTrip(t *testing.T) {
	c := New(nullSink{})
	c.Feed([]byte("input\n"))

	buf := make([]byte, 16)
	n, errno := c.Read(nil, buf)
	if errno != 0 || string(buf[:n]) != "input\n" {
		t.Fatalf("Read = (%q, %d), want (%q, 0)", buf[:n], errno, "input\n")
	}
}

func TestKillUnblocksConsoleRead(t *testing.T) {
	c := New(nullSink{})
	w := &testWaiter{}
	done := make(chan defs.Err_t, 1)

	go func() {
		_, errno := c.Read(w, make([]byte, 8))
		done <- errno
	}()

	time.Sleep(10 * time.Millisecond)
	w.kill()

	select {
	case errno := <-done:
		if errno != -defs.EINTR {
			t.Fatalf("killed Read errno = %d, want -EINTR", errno)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not unblock the console reader")
	}
}

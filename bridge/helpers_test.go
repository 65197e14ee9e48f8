package bridge

import (
	"context"
	"io"
	"log"
	"net/url"
	"sync"
	"testing"
)

// fakeTransport records every switch and answers with err.
type fakeTransport struct {
	mu      sync.Mutex
	err     error
	targets []*url.URL
}

func (f *fakeTransport) Switch(ctx context.Context, target *url.URL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.err
}

func (f *fakeTransport) last(t *testing.T) *url.URL {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.targets) == 0 {
		t.Fatalf("transport was never asked to switch")
	}
	return f.targets[len(f.targets)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

// recordingListener keeps everything it is handed.
type recordingListener struct {
	mu    sync.Mutex
	reqs  []Request
	resps []Response
}

func (l *recordingListener) OnReq(req Request) {
	l.mu.Lock()
	l.reqs = append(l.reqs, req)
	l.mu.Unlock()
}

func (l *recordingListener) OnResp(resp Response) {
	l.mu.Lock()
	l.resps = append(l.resps, resp)
	l.mu.Unlock()
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reqs), len(l.resps)
}

// completionRecorder counts completion calls and keeps the last outcome.
type completionRecorder struct {
	mu    sync.Mutex
	calls int
	ok    bool
}

func (c *completionRecorder) fn() Completion {
	return func(ok bool) {
		c.mu.Lock()
		c.calls++
		c.ok = ok
		c.mu.Unlock()
	}
}

func (c *completionRecorder) result() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.ok
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestDispatcher returns a dispatcher registered as wxabc123.
func newTestDispatcher(t *testing.T, tr Transport) *Dispatcher {
	t.Helper()
	d := New(Options{Transport: tr, Logger: quietLogger()})
	if err := d.Register("wxabc123", "https://example.com/app/"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return d
}

func authReq(scope, state string) Request {
	return Request{Body: AuthRequest{Scope: scope, State: state}}
}

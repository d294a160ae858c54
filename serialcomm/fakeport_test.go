package serialcomm

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// fakePort is an in-memory Port. respond, when set, is called for every
// write and its result is queued for Read after delay.
type fakePort struct {
	mu      sync.Mutex
	written [][]byte
	pending []byte

	respond    func(p []byte) []byte
	delay      time.Duration
	shortWrite bool
	writeErr   error
	flushErr   error

	rx        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newFakePort(respond func(p []byte) []byte) *fakePort {
	return &fakePort{
		respond: respond,
		rx:      make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func replyWith(b ...byte) func([]byte) []byte {
	return func([]byte) []byte { return b }
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case d := <-p.rx:
		n := copy(b, d)
		p.mu.Lock()
		p.pending = append(p.pending, d[n:]...)
		p.mu.Unlock()
		return n, nil
	case <-p.closed:
		return 0, os.ErrClosed
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.isClosed() {
		return 0, os.ErrClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	p.mu.Lock()
	p.written = append(p.written, append([]byte(nil), b...))
	p.mu.Unlock()

	if p.shortWrite {
		return len(b) - 1, nil
	}
	if p.respond != nil {
		if r := p.respond(b); r != nil {
			if p.delay > 0 {
				go func() {
					time.Sleep(p.delay)
					p.rx <- r
				}()
			} else {
				p.rx <- r
			}
		}
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}

func (p *fakePort) Flush() error { return p.flushErr }

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakePort) writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

// fakeOpener hands out ports from newPort and tracks how many are open at once.
type fakeOpener struct {
	newPort func() *fakePort
	err     error

	mu      sync.Mutex
	ports   []*fakePort
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (o *fakeOpener) open(name string, cfg *SerialConfig) (Port, error) {
	if o.err != nil {
		return nil, o.err
	}
	p := o.newPort()
	p.onClose = func() { o.active.Add(-1) }
	n := o.active.Add(1)
	for {
		m := o.maxSeen.Load()
		if n <= m || o.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	o.mu.Lock()
	o.ports = append(o.ports, p)
	o.mu.Unlock()
	return p, nil
}

func (o *fakeOpener) last() *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ports) == 0 {
		return nil
	}
	return o.ports[len(o.ports)-1]
}

var _ io.ReadWriteCloser = (*fakePort)(nil)

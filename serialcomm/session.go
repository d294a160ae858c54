package serialcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type SessionState int32

const (
	StateClosed SessionState = iota
	StateOpening
	StateOpen
	StateSending
	StateAwaitingAck
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting ack"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// idlePoll is the pause between reads that returned nothing.
const idlePoll = 10 * time.Millisecond

var errStopped = errors.New("reply wait stopped")

// Session is exclusive ownership of one named port. It is created by
// Manager.Open and must be closed by the caller; a failed or timed out
// send closes it on its own.
type Session struct {
	name  string
	port  Port
	mgr   *Manager
	mu    sync.Mutex
	state atomic.Int32
}

func (s *Session) Name() string { return s.name }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) { s.state.Store(int32(st)) }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.State() == StateClosed {
		return nil
	}
	s.setState(StateClosing)
	err := s.port.Close()
	s.setState(StateClosed)
	s.mgr.release(s.name)
	return err
}

// Send writes frame in a single write and waits up to timeout for the
// device reply. Nothing is retried.
func (s *Session) Send(ctx context.Context, frame *ConfigFrame, timeout time.Duration) TransmissionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateOpen {
		return portUnavailable(fmt.Errorf("%s: %w", s.name, ErrSessionClosed))
	}
	s.setState(StateSending)

	if f, ok := s.port.(flusher); ok {
		if err := f.Flush(); err != nil {
			s.mgr.cfg.logf("串口 %s 清空输入缓冲失败: %v", s.name, err)
		}
	}

	data := frame.Bytes()
	n, err := s.port.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(data))
	}
	if err != nil {
		s.mgr.cfg.logf("串口 %s 写入失败: %v", s.name, err)
		_ = s.closeLocked()
		return portUnavailable(err)
	}
	s.mgr.cfg.logf("串口 %s 已发送 %d 字节, CRC 0x%04X", s.name, n, frame.Checksum())

	s.setState(StateAwaitingAck)
	r, err := s.await(ctx, timeout)
	switch {
	case err == nil:
		s.setState(StateOpen)
		outcome := classifyReply(r)
		s.mgr.cfg.logf("串口 %s 收到反馈: %v", s.name, outcome)
		return outcome
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.mgr.cfg.logf("串口 %s 等待反馈超时 (%v)", s.name, timeout)
		_ = s.closeLocked()
		return TransmissionOutcome{Kind: OutcomeTimeout, Err: err}
	default:
		s.mgr.cfg.logf("串口 %s 读取反馈失败: %v", s.name, err)
		_ = s.closeLocked()
		return portUnavailable(err)
	}
}

// ping writes PingByte and succeeds on any reply.
func (s *Session) ping(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateOpen {
		return ErrSessionClosed
	}
	if err := sendFeedback(s.port, PingByte); err != nil {
		_ = s.closeLocked()
		return fmt.Errorf("ping write: %w", err)
	}
	if _, err := s.await(context.Background(), timeout); err != nil {
		_ = s.closeLocked()
		return fmt.Errorf("no reply to ping: %w", err)
	}
	return nil
}

// await runs the blocking read off to the side so that the deadline wins
// even when the driver never returns from Read. The caller closes the
// port on failure, which unblocks that read.
func (s *Session) await(ctx context.Context, timeout time.Duration) (reply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		r   reply
		err error
	}
	stop := make(chan struct{})
	defer close(stop)
	ch := make(chan result, 1)
	go func() {
		r, err := readReply(s.port, stop)
		ch <- result{r, err}
	}()

	select {
	case res := <-ch:
		return res.r, res.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// readReply reads a status byte, plus the code byte after ReplyReject.
// A read that returns nothing, or io.EOF with nothing, is a driver read
// timeout and is polled again.
func readReply(port Port, stop <-chan struct{}) (reply, error) {
	var buf [2]byte
	got, need := 0, 1
	for got < need {
		select {
		case <-stop:
			return reply{}, errStopped
		default:
		}

		n, err := port.Read(buf[got:need])
		got += n
		if got > 0 && buf[0] == ReplyReject {
			need = 2
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if got >= need {
				break
			}
			return reply{}, err
		}
		if n == 0 {
			time.Sleep(idlePoll)
		}
	}
	return reply{status: buf[0], code: buf[1]}, nil
}

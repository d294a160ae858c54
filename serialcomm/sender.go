// serialcomm/sender.go
package serialcomm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// portLocks records the port names held anywhere in the process. Every
// Manager claims through it.
var portLocks = struct {
	sync.Mutex
	held map[string]struct{}
}{held: make(map[string]struct{})}

func claimPort(name string) bool {
	portLocks.Lock()
	defer portLocks.Unlock()
	if _, busy := portLocks.held[name]; busy {
		return false
	}
	portLocks.held[name] = struct{}{}
	return true
}

func releasePort(name string) {
	portLocks.Lock()
	delete(portLocks.held, name)
	portLocks.Unlock()
}

// Manager owns the serial ports used to deliver configuration frames.
// At most one Session per port name is open at a time in the process; a
// second Open of a held name fails at once with ErrPortBusy rather than
// queueing.
type Manager struct {
	cfg    *SerialConfig
	opener PortOpener
}

var _ SerialSender = (*Manager)(nil)

func NewManager(cfg *SerialConfig) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		opener: OpenPort,
	}
}

// SetOpener replaces the driver used to open ports (simulators, tests).
func (m *Manager) SetOpener(o PortOpener) {
	m.opener = o
}

func (m *Manager) SetLogger(l *log.Logger) {
	m.cfg.Logger = l
}

// Held reports whether portName is claimed by any Manager.
func (m *Manager) Held(portName string) bool {
	portLocks.Lock()
	defer portLocks.Unlock()
	_, ok := portLocks.held[portName]
	return ok
}

func (m *Manager) release(portName string) {
	releasePort(portName)
}

// Open claims portName and opens it within the configured OpenTimeout.
func (m *Manager) Open(portName string) (*Session, error) {
	return m.open(portName, m.cfg.OpenTimeout)
}

func (m *Manager) open(portName string, timeout time.Duration) (*Session, error) {
	if !claimPort(portName) {
		return nil, fmt.Errorf("open %s: %w", portName, ErrPortBusy)
	}

	s := &Session{name: portName, mgr: m}
	s.setState(StateOpening)

	port, err := m.dial(portName, timeout)
	if err != nil {
		s.setState(StateClosed)
		// after a timeout dial still owns the claim
		if !errors.Is(err, ErrOpenTimeout) {
			m.release(portName)
		}
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	s.port = port
	s.setState(StateOpen)
	return s, nil
}

// dial bounds the driver open by timeout. A port that opens after we gave
// up is closed as soon as it arrives, and the name stays claimed until the
// driver open has returned.
func (m *Manager) dial(portName string, timeout time.Duration) (Port, error) {
	type result struct {
		port Port
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := m.opener(portName, m.cfg)
		ch <- result{p, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.port, r.err
	case <-timer.C:
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.port.Close()
				m.cfg.logf("串口 %s 超时后打开，已关闭", portName)
			}
			m.release(portName)
		}()
		return nil, ErrOpenTimeout
	}
}

// Probe opens portName, optionally pings the device, and closes it again.
func (m *Manager) Probe(portName string, timeout time.Duration) ConnectionStatus {
	s, err := m.open(portName, timeout)
	if err != nil {
		m.cfg.logf("串口 %s 探测失败: %v", portName, err)
		return unreachable(err)
	}
	defer s.Close()

	if m.cfg.ProbePing {
		if err := s.ping(timeout); err != nil {
			m.cfg.logf("串口 %s 探测失败: %v", portName, err)
			return ConnectionStatus{Reason: err.Error(), Err: err}
		}
	}
	m.cfg.logf("串口 %s 连接正常", portName)
	return ConnectionStatus{Reachable: true}
}

func (m *Manager) Send(portName string, frame *ConfigFrame, timeout time.Duration) TransmissionOutcome {
	return m.SendContext(context.Background(), portName, frame, timeout)
}

// SendContext opens portName, sends frame and releases the port on every
// path. Cancelling ctx ends the wait like a timeout.
func (m *Manager) SendContext(ctx context.Context, portName string, frame *ConfigFrame, timeout time.Duration) TransmissionOutcome {
	s, err := m.Open(portName)
	if err != nil {
		m.cfg.logf("无法打开串口: %v", err)
		return portUnavailable(err)
	}
	defer s.Close()
	return s.Send(ctx, frame, timeout)
}

// serialcomm/serialcomm.go
package serialcomm

import (
	"io"
	"log"
	"time"
)

// ConfigHandler is called by the receiver for every frame that decodes
// cleanly. Returning an error rejects the frame; a *RejectError selects
// the code reported back to the host.
type ConfigHandler func(rec ConfigurationRecord) error

type SerialConfig struct {
	PortName     string
	BaudRate     int
	ReadTimeout  time.Duration
	OpenTimeout  time.Duration
	FrameTimeout time.Duration
	MaxLength    int
	Driver       Driver
	ProbePing    bool
	Logger       *log.Logger
	ReadCallback ConfigHandler
}

const (
	defaultBaudRate     = 115200
	defaultReadTimeout  = 100 * time.Millisecond
	defaultOpenTimeout  = 2 * time.Second
	defaultFrameTimeout = 5 * time.Second
	defaultMaxLength    = 1024
)

func (c *SerialConfig) withDefaults() *SerialConfig {
	out := SerialConfig{}
	if c != nil {
		out = *c
	}
	if out.BaudRate == 0 {
		out.BaudRate = defaultBaudRate
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = defaultReadTimeout
	}
	if out.OpenTimeout == 0 {
		out.OpenTimeout = defaultOpenTimeout
	}
	if out.FrameTimeout == 0 {
		out.FrameTimeout = defaultFrameTimeout
	}
	if out.MaxLength < FrameSize {
		out.MaxLength = defaultMaxLength
	}
	if out.Driver == "" {
		out.Driver = DriverTarm
	}
	return &out
}

func (c *SerialConfig) logf(format string, args ...any) {
	l := c.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}

// Port is an open serial line. Both supported drivers satisfy it, as do
// net.Conn and the in-memory ports used by simulators.
type Port interface {
	io.ReadWriteCloser
}

// flusher is implemented by ports that can discard pending input.
type flusher interface {
	Flush() error
}

type SerialReceiver interface {
	Start() error
	Close() error
}

// SerialSender is the host-side contract implemented by *Manager.
type SerialSender interface {
	Probe(portName string, timeout time.Duration) ConnectionStatus
	Send(portName string, frame *ConfigFrame, timeout time.Duration) TransmissionOutcome
}

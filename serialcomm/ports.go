package serialcomm

import (
	"errors"
	"fmt"
	"os"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

type Driver string

const (
	DriverTarm  Driver = "tarm"
	DriverBugst Driver = "bugst"
)

// PortOpener opens the named port using the line settings in cfg.
type PortOpener func(name string, cfg *SerialConfig) (Port, error)

// OpenPort is the default PortOpener. It picks the driver from cfg.Driver.
func OpenPort(name string, cfg *SerialConfig) (Port, error) {
	cfg = cfg.withDefaults()
	switch cfg.Driver {
	case DriverTarm:
		return openTarm(name, cfg)
	case DriverBugst:
		return openBugst(name, cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

func openTarm(name string, cfg *SerialConfig) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        cfg.BaudRate,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

type bugstPort struct {
	bugst.Port
}

func (p bugstPort) Flush() error {
	return p.ResetInputBuffer()
}

func openBugst(name string, cfg *SerialConfig) (Port, error) {
	port, err := bugst.Open(name, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return bugstPort{port}, nil
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}

// describeOpenError turns an open failure into a short reason an
// operator can act on.
func describeOpenError(err error) string {
	var pe *bugst.PortError
	switch {
	case errors.Is(err, ErrPortBusy):
		return "port busy"
	case errors.Is(err, ErrOpenTimeout):
		return "open timed out"
	case errors.As(err, &pe):
		switch pe.Code() {
		case bugst.PortBusy:
			return "port busy"
		case bugst.PortNotFound:
			return "port not found"
		case bugst.PermissionDenied:
			return "permission denied"
		}
	case errors.Is(err, os.ErrNotExist):
		return "port not found"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	}
	return err.Error()
}

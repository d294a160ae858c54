package serialcomm

import "fmt"

type OutcomeKind int

const (
	OutcomeAcknowledged OutcomeKind = iota
	OutcomeDeviceRejected
	OutcomeTimeout
	OutcomePortUnavailable
	OutcomeChecksumMismatchReportedByDevice
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeDeviceRejected:
		return "device rejected"
	case OutcomeTimeout:
		return "timeout"
	case OutcomePortUnavailable:
		return "port unavailable"
	case OutcomeChecksumMismatchReportedByDevice:
		return "checksum mismatch reported by device"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// TransmissionOutcome is the result of one send. Code is set only for
// OutcomeDeviceRejected; Err carries the transport cause when there is one.
type TransmissionOutcome struct {
	Kind OutcomeKind
	Code byte
	Err  error
}

func (o TransmissionOutcome) OK() bool { return o.Kind == OutcomeAcknowledged }

func (o TransmissionOutcome) String() string {
	switch {
	case o.Kind == OutcomeDeviceRejected:
		return fmt.Sprintf("%s (code 0x%02X)", o.Kind, o.Code)
	case o.Err != nil:
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return o.Kind.String()
}

func portUnavailable(err error) TransmissionOutcome {
	return TransmissionOutcome{Kind: OutcomePortUnavailable, Err: err}
}

type ConnectionStatus struct {
	Reachable bool
	Reason    string
	Err       error
}

func (s ConnectionStatus) String() string {
	if s.Reachable {
		return "reachable"
	}
	return "unreachable: " + s.Reason
}

func unreachable(err error) ConnectionStatus {
	return ConnectionStatus{Reason: describeOpenError(err), Err: err}
}

type reply struct {
	status byte
	code   byte
}

func classifyReply(r reply) TransmissionOutcome {
	switch r.status {
	case ReplyAck:
		return TransmissionOutcome{Kind: OutcomeAcknowledged}
	case ReplyNak:
		return TransmissionOutcome{Kind: OutcomeChecksumMismatchReportedByDevice}
	case ReplyReject:
		return TransmissionOutcome{Kind: OutcomeDeviceRejected, Code: r.code}
	}
	return TransmissionOutcome{Kind: OutcomeDeviceRejected, Code: r.status}
}

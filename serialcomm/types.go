package serialcomm

import (
	"fmt"
	"strings"
)

type DeviceMode uint8

const (
	ModeReceive  DeviceMode = 0x00
	ModeTransmit DeviceMode = 0x01
)

type StreamingProtocol uint8

const (
	ProtocolUART StreamingProtocol = 0x00
	ProtocolI2C  StreamingProtocol = 0x01
	ProtocolSPI  StreamingProtocol = 0x02
	ProtocolFile StreamingProtocol = 0x03
)

type Modulation uint8

const (
	ModulationBPSK Modulation = 0x00
	ModulationQPSK Modulation = 0x01
	ModulationFSK  Modulation = 0x02
)

var deviceModeNames = map[DeviceMode]string{
	ModeReceive:  "receive",
	ModeTransmit: "transmit",
}

var protocolNames = map[StreamingProtocol]string{
	ProtocolUART: "uart",
	ProtocolI2C:  "i2c",
	ProtocolSPI:  "spi",
	ProtocolFile: "file",
}

var modulationNames = map[Modulation]string{
	ModulationBPSK: "BPSK",
	ModulationQPSK: "QPSK",
	ModulationFSK:  "FSK",
}

func (m DeviceMode) Valid() bool {
	_, ok := deviceModeNames[m]
	return ok
}

func (m DeviceMode) String() string {
	if s, ok := deviceModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("DeviceMode(%d)", uint8(m))
}

func (p StreamingProtocol) Valid() bool {
	_, ok := protocolNames[p]
	return ok
}

func (p StreamingProtocol) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}
	return fmt.Sprintf("StreamingProtocol(%d)", uint8(p))
}

func (m Modulation) Valid() bool {
	_, ok := modulationNames[m]
	return ok
}

func (m Modulation) String() string {
	if s, ok := modulationNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Modulation(%d)", uint8(m))
}

// ParseDeviceMode accepts "receive"/"rx" and "transmit"/"tx" in any case.
func ParseDeviceMode(s string) (DeviceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "receive", "rx":
		return ModeReceive, nil
	case "transmit", "tx":
		return ModeTransmit, nil
	}
	return 0, &ValidationError{Field: FieldDeviceMode, Reason: fmt.Sprintf("unknown value %q, want receive or transmit", s)}
}

func ParseStreamingProtocol(s string) (StreamingProtocol, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == want {
			return p, nil
		}
	}
	return 0, &ValidationError{Field: FieldStreamingProtocol, Reason: fmt.Sprintf("unknown value %q, want uart, i2c, spi or file", s)}
}

func ParseModulation(s string) (Modulation, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for m, name := range modulationNames {
		if name == want {
			return m, nil
		}
	}
	return 0, &ValidationError{Field: FieldModulation, Reason: fmt.Sprintf("unknown value %q, want BPSK, QPSK or FSK", s)}
}

func (m DeviceMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, &ValidationError{Field: FieldDeviceMode, Value: uint64(m), Reason: "unknown device mode"}
	}
	return []byte(m.String()), nil
}

func (m *DeviceMode) UnmarshalText(b []byte) error {
	v, err := ParseDeviceMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (p StreamingProtocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, &ValidationError{Field: FieldStreamingProtocol, Value: uint64(p), Reason: "unknown streaming protocol"}
	}
	return []byte(p.String()), nil
}

func (p *StreamingProtocol) UnmarshalText(b []byte) error {
	v, err := ParseStreamingProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (m Modulation) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, &ValidationError{Field: FieldModulation, Value: uint64(m), Reason: "unknown modulation"}
	}
	return []byte(m.String()), nil
}

func (m *Modulation) UnmarshalText(b []byte) error {
	v, err := ParseModulation(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ConfigurationRecord is the RF configuration an operator submits for a device.
type ConfigurationRecord struct {
	DeviceMode          DeviceMode        `json:"device_mode"`
	StreamingProtocol   StreamingProtocol `json:"streaming_protocol"`
	Modulation          Modulation        `json:"modulation"`
	CarrierFrequencyHz  uint64            `json:"carrier_frequency_hz"`
	SamplingFrequencyHz uint32            `json:"sampling_frequency_hz"`
	RFGainDB            uint8             `json:"rf_gain_db"`
	IFGainDB            uint8             `json:"if_gain_db"`
	BasebandGainDB      uint8             `json:"baseband_gain_db"`
	SourceFilePath      string            `json:"source_file_path,omitempty"`
}

// NewConfigurationRecord builds a validated record from loosely typed
// input, e.g. form fields. Numbers arrive wide so that out-of-range input
// is reported instead of being truncated on conversion.
func NewConfigurationRecord(mode, protocol, modulation string, fc, fs, rfg, ifg, bbg uint64, sourcePath string) (ConfigurationRecord, error) {
	var rec ConfigurationRecord
	var err error

	if rec.DeviceMode, err = ParseDeviceMode(mode); err != nil {
		return ConfigurationRecord{}, err
	}
	if rec.StreamingProtocol, err = ParseStreamingProtocol(protocol); err != nil {
		return ConfigurationRecord{}, err
	}
	if rec.Modulation, err = ParseModulation(modulation); err != nil {
		return ConfigurationRecord{}, err
	}

	for _, c := range []struct {
		field    string
		v        uint64
		min, max uint64
	}{
		{FieldCarrierFrequency, fc, MinCarrierFrequencyHz, MaxCarrierFrequencyHz},
		{FieldSamplingFrequency, fs, MinSamplingFrequencyHz, MaxSamplingFrequencyHz},
		{FieldRFGain, rfg, 0, MaxRFGainDB},
		{FieldIFGain, ifg, 0, MaxIFGainDB},
		{FieldBasebandGain, bbg, 0, MaxBasebandGainDB},
	} {
		if verr := checkRange(c.field, c.v, c.min, c.max); verr != nil {
			return ConfigurationRecord{}, verr
		}
	}

	rec.CarrierFrequencyHz = fc
	rec.SamplingFrequencyHz = uint32(fs)
	rec.RFGainDB = uint8(rfg)
	rec.IFGainDB = uint8(ifg)
	rec.BasebandGainDB = uint8(bbg)
	rec.SourceFilePath = sourcePath

	if err := Validate(rec); err != nil {
		return ConfigurationRecord{}, err
	}
	return rec, nil
}

// serialcomm/frame.go
package serialcomm

import (
	"encoding/binary"
	"fmt"
)

// Frame layout, big-endian, fixed width:
//
//	0   header  magic (high nibble 0xA) | version (low nibble)
//	1   device_mode
//	2   streaming_protocol
//	3   modulation
//	4   carrier_frequency_hz   uint64
//	12  sampling_frequency_hz  uint32
//	16  rf_gain_db
//	17  if_gain_db
//	18  baseband_gain_db
//	19  CRC-16/CCITT-FALSE over bytes 0..18
const (
	FrameMagic   byte = 0xA0
	FrameVersion byte = 0x01

	frameHeader = FrameMagic | FrameVersion
	magicMask   = 0xF0

	PayloadSize  = 19
	ChecksumSize = 2
	FrameSize    = PayloadSize + ChecksumSize
)

const (
	offMode       = 1
	offProtocol   = 2
	offModulation = 3
	offCarrier    = 4
	offSampling   = 12
	offRFGain     = 16
	offIFGain     = 17
	offBBGain     = 18
)

const (
	MinCarrierFrequencyHz  uint64 = 1_000_000
	MaxCarrierFrequencyHz  uint64 = 6_000_000_000
	MinSamplingFrequencyHz uint64 = 1_000_000
	MaxSamplingFrequencyHz uint64 = 20_000_000
	MaxRFGainDB            uint64 = 47
	MaxIFGainDB            uint64 = 40
	MaxBasebandGainDB      uint64 = 62
)

const (
	FieldDeviceMode        = "device_mode"
	FieldStreamingProtocol = "streaming_protocol"
	FieldModulation        = "modulation"
	FieldCarrierFrequency  = "carrier_frequency_hz"
	FieldSamplingFrequency = "sampling_frequency_hz"
	FieldRFGain            = "rf_gain_db"
	FieldIFGain            = "if_gain_db"
	FieldBasebandGain      = "baseband_gain_db"
	FieldSourceFilePath    = "source_file_path"
)

// ConfigFrame is an encoded record. It is never modified after Encode.
type ConfigFrame struct {
	data     []byte
	checksum uint16
}

// Bytes returns a copy of the wire bytes.
func (f *ConfigFrame) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

func (f *ConfigFrame) Checksum() uint16 { return f.checksum }

func (f *ConfigFrame) Len() int { return len(f.data) }

func checkRange(field string, v, min, max uint64) *ValidationError {
	if v < min || v > max {
		return &ValidationError{Field: field, Value: v, Min: min, Max: max}
	}
	return nil
}

// Validate reports the first field of rec that is outside its domain.
func Validate(rec ConfigurationRecord) error {
	if !rec.DeviceMode.Valid() {
		return &ValidationError{Field: FieldDeviceMode, Value: uint64(rec.DeviceMode), Reason: fmt.Sprintf("unknown value %d", rec.DeviceMode)}
	}
	if !rec.StreamingProtocol.Valid() {
		return &ValidationError{Field: FieldStreamingProtocol, Value: uint64(rec.StreamingProtocol), Reason: fmt.Sprintf("unknown value %d", rec.StreamingProtocol)}
	}
	if !rec.Modulation.Valid() {
		return &ValidationError{Field: FieldModulation, Value: uint64(rec.Modulation), Reason: fmt.Sprintf("unknown value %d", rec.Modulation)}
	}
	if err := checkRange(FieldCarrierFrequency, rec.CarrierFrequencyHz, MinCarrierFrequencyHz, MaxCarrierFrequencyHz); err != nil {
		return err
	}
	if err := checkRange(FieldSamplingFrequency, uint64(rec.SamplingFrequencyHz), MinSamplingFrequencyHz, MaxSamplingFrequencyHz); err != nil {
		return err
	}
	if err := checkRange(FieldRFGain, uint64(rec.RFGainDB), 0, MaxRFGainDB); err != nil {
		return err
	}
	if err := checkRange(FieldIFGain, uint64(rec.IFGainDB), 0, MaxIFGainDB); err != nil {
		return err
	}
	if err := checkRange(FieldBasebandGain, uint64(rec.BasebandGainDB), 0, MaxBasebandGainDB); err != nil {
		return err
	}
	switch {
	case rec.StreamingProtocol == ProtocolFile && rec.SourceFilePath == "":
		return &ValidationError{Field: FieldSourceFilePath, Reason: "required when streaming_protocol is file"}
	case rec.StreamingProtocol != ProtocolFile && rec.SourceFilePath != "":
		return &ValidationError{Field: FieldSourceFilePath, Reason: "only allowed when streaming_protocol is file"}
	}
	return nil
}

// Encode validates rec and lays it out as a checksummed frame.
func Encode(rec ConfigurationRecord) (*ConfigFrame, error) {
	if err := Validate(rec); err != nil {
		return nil, err
	}

	data := make([]byte, FrameSize)
	data[0] = frameHeader
	data[offMode] = byte(rec.DeviceMode)
	data[offProtocol] = byte(rec.StreamingProtocol)
	data[offModulation] = byte(rec.Modulation)
	binary.BigEndian.PutUint64(data[offCarrier:offSampling], rec.CarrierFrequencyHz)
	binary.BigEndian.PutUint32(data[offSampling:offRFGain], rec.SamplingFrequencyHz)
	data[offRFGain] = rec.RFGainDB
	data[offIFGain] = rec.IFGainDB
	data[offBBGain] = rec.BasebandGainDB

	crc := calculateCRC16(data[:PayloadSize])
	binary.BigEndian.PutUint16(data[PayloadSize:], crc)

	return &ConfigFrame{data: data, checksum: crc}, nil
}

// UnknownSourcePath stands in for the source file path of a File record
// rebuilt from a frame when the real path is not known.
const UnknownSourcePath = "-"

// Decode verifies the checksum before looking at any field. The source
// file path does not travel in the frame, so it is always empty here; a
// File record must get its path back through WithSourcePath before it
// passes Validate or can be encoded again.
func Decode(data []byte) (ConfigurationRecord, error) {
	if len(data) != FrameSize {
		return ConfigurationRecord{}, &FrameError{Kind: FrameMalformed, Detail: fmt.Sprintf("length %d, want %d", len(data), FrameSize)}
	}

	stored := binary.BigEndian.Uint16(data[PayloadSize:])
	calculated := calculateCRC16(data[:PayloadSize])
	if stored != calculated {
		return ConfigurationRecord{}, &FrameError{Kind: FrameChecksumInvalid, Detail: fmt.Sprintf("stored 0x%04X, calculated 0x%04X", stored, calculated)}
	}

	if data[0]&magicMask != FrameMagic {
		return ConfigurationRecord{}, &FrameError{Kind: FrameMalformed, Detail: fmt.Sprintf("bad header 0x%02X", data[0])}
	}
	if v := data[0] &^ magicMask; v != FrameVersion {
		return ConfigurationRecord{}, &FrameError{Kind: FrameUnsupportedVersion, Detail: fmt.Sprintf("version %d, want %d", v, FrameVersion)}
	}

	rec := ConfigurationRecord{
		DeviceMode:          DeviceMode(data[offMode]),
		StreamingProtocol:   StreamingProtocol(data[offProtocol]),
		Modulation:          Modulation(data[offModulation]),
		CarrierFrequencyHz:  binary.BigEndian.Uint64(data[offCarrier:offSampling]),
		SamplingFrequencyHz: binary.BigEndian.Uint32(data[offSampling:offRFGain]),
		RFGainDB:            data[offRFGain],
		IFGainDB:            data[offIFGain],
		BasebandGainDB:      data[offBBGain],
	}

	if err := validateWire(rec); err != nil {
		return ConfigurationRecord{}, &FrameError{Kind: FrameMalformed, Detail: err.Error()}
	}
	return rec, nil
}

// validateWire applies Validate minus the source path rules.
func validateWire(rec ConfigurationRecord) error {
	return Validate(WithSourcePath(rec, ""))
}

// WithSourcePath sets the source file path of a File record, using
// UnknownSourcePath when path is empty. Other records are returned as is.
func WithSourcePath(rec ConfigurationRecord, path string) ConfigurationRecord {
	if rec.StreamingProtocol != ProtocolFile {
		return rec
	}
	if path == "" {
		path = UnknownSourcePath
	}
	rec.SourceFilePath = path
	return rec
}

// DecodeFrame verifies data like Decode and, on success, wraps it as a
// ConfigFrame so a stored frame can be resent byte for byte.
func DecodeFrame(data []byte) (*ConfigFrame, ConfigurationRecord, error) {
	rec, err := Decode(data)
	if err != nil {
		return nil, ConfigurationRecord{}, err
	}
	frame := &ConfigFrame{data: append([]byte(nil), data...)}
	frame.checksum = binary.BigEndian.Uint16(frame.data[PayloadSize:])
	return frame, rec, nil
}

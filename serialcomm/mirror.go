package serialcomm

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeMirror renders rec as key=value lines for audit logs and for the
// text file saved next to the binary frame. It is never parsed back.
func EncodeMirror(rec ConfigurationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s\n", FieldDeviceMode, rec.DeviceMode)
	fmt.Fprintf(&b, "%s=%s\n", FieldStreamingProtocol, rec.StreamingProtocol)
	fmt.Fprintf(&b, "%s=%s\n", FieldModulation, rec.Modulation)
	fmt.Fprintf(&b, "%s=%d\n", FieldCarrierFrequency, rec.CarrierFrequencyHz)
	fmt.Fprintf(&b, "%s=%d\n", FieldSamplingFrequency, rec.SamplingFrequencyHz)
	fmt.Fprintf(&b, "%s=%d\n", FieldRFGain, rec.RFGainDB)
	fmt.Fprintf(&b, "%s=%d\n", FieldIFGain, rec.IFGainDB)
	fmt.Fprintf(&b, "%s=%d\n", FieldBasebandGain, rec.BasebandGainDB)
	if rec.StreamingProtocol == ProtocolFile {
		fmt.Fprintf(&b, "%s=%s\n", FieldSourceFilePath, rec.SourceFilePath)
	}
	return b.String()
}

// CompactString renders the legacy one-line form
// MODE|PROTOCOL|MOD|FC|FS|RFG|IFG|BBG, with the source path appended as a
// ninth field for the file protocol.
func CompactString(rec ConfigurationRecord) string {
	parts := []string{
		strings.ToUpper(rec.DeviceMode.String()),
		strings.ToUpper(rec.StreamingProtocol.String()),
		rec.Modulation.String(),
		strconv.FormatUint(rec.CarrierFrequencyHz, 10),
		strconv.FormatUint(uint64(rec.SamplingFrequencyHz), 10),
		strconv.FormatUint(uint64(rec.RFGainDB), 10),
		strconv.FormatUint(uint64(rec.IFGainDB), 10),
		strconv.FormatUint(uint64(rec.BasebandGainDB), 10),
	}
	if rec.StreamingProtocol == ProtocolFile {
		parts = append(parts, rec.SourceFilePath)
	}
	return strings.Join(parts, "|")
}

func ParseCompact(s string) (ConfigurationRecord, error) {
	parts := strings.Split(strings.TrimSpace(s), "|")
	if len(parts) != 8 && len(parts) != 9 {
		return ConfigurationRecord{}, fmt.Errorf("compact string: %d fields, want 8 or 9", len(parts))
	}

	fields := []string{FieldCarrierFrequency, FieldSamplingFrequency, FieldRFGain, FieldIFGain, FieldBasebandGain}
	nums := make([]uint64, len(fields))
	for i, name := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(parts[3+i]), 10, 64)
		if err != nil {
			return ConfigurationRecord{}, &ValidationError{Field: name, Reason: fmt.Sprintf("not an unsigned integer: %q", parts[3+i])}
		}
		nums[i] = v
	}

	var path string
	if len(parts) == 9 {
		path = parts[8]
	}
	return NewConfigurationRecord(parts[0], parts[1], parts[2], nums[0], nums[1], nums[2], nums[3], nums[4], path)
}

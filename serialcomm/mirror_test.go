package serialcomm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMirror(t *testing.T) {
	want := "device_mode=transmit\n" +
		"streaming_protocol=uart\n" +
		"modulation=QPSK\n" +
		"carrier_frequency_hz=915000000\n" +
		"sampling_frequency_hz=2000000\n" +
		"rf_gain_db=14\n" +
		"if_gain_db=20\n" +
		"baseband_gain_db=30\n"
	assert.Equal(t, want, EncodeMirror(sampleRecord()))
}

func TestEncodeMirrorFileProtocol(t *testing.T) {
	rec := sampleRecord()
	rec.StreamingProtocol = ProtocolFile
	rec.SourceFilePath = "/data/tx.iq"

	out := EncodeMirror(rec)
	assert.Contains(t, out, "streaming_protocol=file\n")
	assert.Contains(t, out, "source_file_path=/data/tx.iq\n")
}

func TestCompactString(t *testing.T) {
	s := CompactString(sampleRecord())
	assert.Equal(t, "TRANSMIT|UART|QPSK|915000000|2000000|14|20|30", s)

	rec, err := ParseCompact(s)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)
}

func TestCompactStringFileProtocol(t *testing.T) {
	rec := sampleRecord()
	rec.StreamingProtocol = ProtocolFile
	rec.SourceFilePath = "/data/tx.iq"

	got, err := ParseCompact(CompactString(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestParseCompactErrors(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		field string
	}{
		{"fractional gain", "RECEIVE|UART|QPSK|915000000|2000000|14.5|20|30", FieldRFGain},
		{"fc too low", "RECEIVE|UART|QPSK|5|2000000|14|20|30", FieldCarrierFrequency},
		{"bad modulation", "RECEIVE|UART|OOK|915000000|2000000|14|20|30", FieldModulation},
		{"file without path", "RECEIVE|FILE|QPSK|915000000|2000000|14|20|30", FieldSourceFilePath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompact(tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := ParseCompact("RECEIVE|UART|QPSK")
	assert.Error(t, err)
}

func TestRecordJSON(t *testing.T) {
	b, err := json.Marshal(sampleRecord())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"device_mode": "transmit",
		"streaming_protocol": "uart",
		"modulation": "QPSK",
		"carrier_frequency_hz": 915000000,
		"sampling_frequency_hz": 2000000,
		"rf_gain_db": 14,
		"if_gain_db": 20,
		"baseband_gain_db": 30
	}`, string(b))

	var rec ConfigurationRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, sampleRecord(), rec)

	err = json.Unmarshal([]byte(`{"device_mode":"sleep"}`), &rec)
	assert.Error(t, err)

	// out of range for uint8 is an error, never a wrap
	err = json.Unmarshal([]byte(`{"rf_gain_db":300}`), &rec)
	assert.Error(t, err)
}

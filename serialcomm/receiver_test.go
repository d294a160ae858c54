package serialcomm

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback wires a Manager to a Receiver over net.Pipe. Each Open gets a
// fresh pipe with its own receiver on the device end.
type loopback struct {
	handler  ConfigHandler
	mu       sync.Mutex
	received []ConfigurationRecord
	rxs      []SerialReceiver
}

func (l *loopback) open(name string, cfg *SerialConfig) (Port, error) {
	host, device := net.Pipe()
	rx := NewReceiverWithPort(device, &SerialConfig{
		Logger: log.New(io.Discard, "", 0),
		ReadCallback: func(rec ConfigurationRecord) error {
			l.mu.Lock()
			l.received = append(l.received, rec)
			l.mu.Unlock()
			if l.handler != nil {
				return l.handler(rec)
			}
			return nil
		},
	})
	if err := rx.Start(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.rxs = append(l.rxs, rx)
	l.mu.Unlock()
	return host, nil
}

func (l *loopback) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rx := range l.rxs {
		_ = rx.Close()
	}
}

func (l *loopback) records() []ConfigurationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConfigurationRecord(nil), l.received...)
}

func newLoopbackManager(t *testing.T, l *loopback) *Manager {
	t.Helper()
	t.Cleanup(l.close)
	m := NewManager(nil)
	m.SetLogger(log.New(io.Discard, "", 0))
	m.SetOpener(l.open)
	return m
}

func TestEndToEndAcknowledged(t *testing.T) {
	l := &loopback{}
	m := newLoopbackManager(t, l)

	frame, err := Encode(sampleRecord())
	require.NoError(t, err)
	require.Equal(t, FrameSize, frame.Len())

	got := m.Send("sim0", frame, time.Second)
	assert.Equal(t, TransmissionOutcome{Kind: OutcomeAcknowledged}, got)
	assert.Equal(t, []ConfigurationRecord{sampleRecord()}, l.records())
}

func TestEndToEndHandlerRejects(t *testing.T) {
	l := &loopback{handler: func(rec ConfigurationRecord) error {
		if rec.DeviceMode == ModeTransmit {
			return &RejectError{Code: 0x21, Reason: "transmit disabled"}
		}
		return nil
	}}
	m := newLoopbackManager(t, l)

	got := m.Send("sim0", sampleFrame(t), time.Second)
	assert.Equal(t, OutcomeDeviceRejected, got.Kind)
	assert.Equal(t, byte(0x21), got.Code)
}

func TestEndToEndHandlerPlainError(t *testing.T) {
	l := &loopback{handler: func(ConfigurationRecord) error { return errors.New("busy") }}
	m := newLoopbackManager(t, l)

	got := m.Send("sim0", sampleFrame(t), time.Second)
	assert.Equal(t, OutcomeDeviceRejected, got.Kind)
	assert.Equal(t, RejectParameter, got.Code)
}

func TestEndToEndCorruptedFrame(t *testing.T) {
	l := &loopback{}
	m := newLoopbackManager(t, l)

	data := sampleFrame(t).Bytes()
	data[5] ^= 0x10
	corrupted := &ConfigFrame{data: data, checksum: 0}

	got := m.Send("sim0", corrupted, time.Second)
	assert.Equal(t, OutcomeChecksumMismatchReportedByDevice, got.Kind)
	assert.Empty(t, l.records())
}

func TestEndToEndUnsupportedVersion(t *testing.T) {
	l := &loopback{}
	m := newLoopbackManager(t, l)

	data := resign(func() []byte { b := sampleFrame(t).Bytes(); b[0] = 0xA7; return b }())
	got := m.Send("sim0", &ConfigFrame{data: data}, time.Second)
	assert.Equal(t, OutcomeDeviceRejected, got.Kind)
	assert.Equal(t, RejectUnsupportedVersion, got.Code)
}

func TestEndToEndProbePing(t *testing.T) {
	l := &loopback{}
	m := newLoopbackManager(t, l)
	m.cfg.ProbePing = true

	status := m.Probe("sim0", time.Second)
	assert.True(t, status.Reachable, status.String())
	assert.False(t, m.Held("sim0"))
}

func TestReceiverSkipsNoiseAndHandlesSplitFrames(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()

	got := make(chan ConfigurationRecord, 1)
	rx := NewReceiverWithPort(device, &SerialConfig{
		Logger:       log.New(io.Discard, "", 0),
		ReadCallback: func(rec ConfigurationRecord) error { got <- rec; return nil },
	})
	require.NoError(t, rx.Start())
	defer rx.Close()

	data := sampleFrame(t).Bytes()
	go func() {
		_, _ = host.Write([]byte{0x00, 0x13, 0x37})
		_, _ = host.Write(data[:7])
		time.Sleep(20 * time.Millisecond)
		_, _ = host.Write(data[7:])
	}()

	ack := make([]byte, 1)
	_ = host.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(host, ack)
	require.NoError(t, err)
	assert.Equal(t, ReplyAck, ack[0])

	select {
	case rec := <-got:
		assert.Equal(t, sampleRecord(), rec)
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}
}

func TestReceiverResyncsAfterHeaderLikeNoise(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()

	got := make(chan ConfigurationRecord, 1)
	rx := NewReceiverWithPort(device, &SerialConfig{
		Logger:       log.New(io.Discard, "", 0),
		ReadCallback: func(rec ConfigurationRecord) error { got <- rec; return nil },
	})
	require.NoError(t, rx.Start())
	defer rx.Close()

	data := sampleFrame(t).Bytes()
	go func() {
		_, _ = host.Write([]byte{0xA5})
		_, _ = host.Write(data[:10])
		time.Sleep(20 * time.Millisecond)
		_, _ = host.Write(data[10:])
	}()

	ack := make([]byte, 1)
	_ = host.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(host, ack)
	require.NoError(t, err)
	assert.Equal(t, ReplyAck, ack[0])

	select {
	case rec := <-got:
		assert.Equal(t, sampleRecord(), rec)
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}
}

func TestReceiverNaksCorruptedFrameWithHeaderLikeByte(t *testing.T) {
	l := &loopback{}
	m := newLoopbackManager(t, l)

	data := sampleFrame(t).Bytes()
	data[5] = 0xA3
	corrupted := &ConfigFrame{data: data}

	start := time.Now()
	got := m.Send("sim0", corrupted, time.Second)
	assert.Equal(t, OutcomeChecksumMismatchReportedByDevice, got.Kind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, l.records())
}

func TestResync(t *testing.T) {
	data := sampleFrame(t).Bytes()

	skip, pending := resync(append([]byte{0xA5}, data...))
	assert.Equal(t, 1, skip)
	assert.False(t, pending)

	skip, pending = resync(append([]byte{0xA5}, data[:15]...))
	assert.Equal(t, 0, skip)
	assert.True(t, pending)

	bad := append([]byte(nil), data...)
	bad[3] ^= 1
	skip, pending = resync(bad)
	assert.Equal(t, 0, skip)
	assert.False(t, pending)
}

func TestReceiverCloseStopsLoop(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()

	rx := NewReceiverWithPort(device, &SerialConfig{Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, rx.Start())

	done := make(chan error, 1)
	go func() { done <- rx.Close() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.NoError(t, rx.Close())
}

func TestSessionSendOverPipeReusesReceiver(t *testing.T) {
	l := &loopback{}
	m := newLoopbackManager(t, l)

	s, err := m.Open("sim0")
	require.NoError(t, err)
	defer s.Close()

	frame := sampleFrame(t)
	assert.True(t, s.Send(context.Background(), frame, time.Second).OK())
	assert.True(t, s.Send(context.Background(), frame, time.Second).OK())
	assert.Len(t, l.records(), 2)
}

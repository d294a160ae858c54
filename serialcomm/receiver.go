// serialcomm/receiver.go
package serialcomm

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// serialReceiverImpl is the device end of the link: it decodes incoming
// frames, hands them to ReadCallback and answers each one.
type serialReceiverImpl struct {
	port      Port
	config    *SerialConfig
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
	closeOnce sync.Once
}

func NewSerialReceiver(cfg *SerialConfig) (SerialReceiver, error) {
	cfg = cfg.withDefaults()
	port, err := OpenPort(cfg.PortName, cfg)
	if err != nil {
		return nil, err
	}
	return NewReceiverWithPort(port, cfg), nil
}

// NewReceiverWithPort serves an already open port. The receiver takes
// ownership of port and closes it in Close.
func NewReceiverWithPort(port Port, cfg *SerialConfig) SerialReceiver {
	return &serialReceiverImpl{
		port:   port,
		config: cfg.withDefaults(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (s *serialReceiverImpl) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	go s.loop()
	return nil
}

// frameSettle is how long a window that failed its checksum waits for the
// rest of a later header before it is answered with NAK.
const frameSettle = 50 * time.Millisecond

func (s *serialReceiverImpl) loop() {
	var (
		buffer       bytes.Buffer
		lastDataTime = time.Now()
		chunks       = make(chan []byte)
		readDone     = make(chan struct{})
	)

	defer close(s.doneCh)
	s.config.logf("串口监听启动")

	go s.readPort(chunks, readDone)
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.config.logf("串口监听停止")
			return
		case <-readDone:
			s.config.logf("串口监听停止")
			return
		case chunk := <-chunks:
			lastDataTime = time.Now()
			buffer.Write(chunk)
			s.drain(&buffer, false)
		case <-ticker.C:
			if buffer.Len() == 0 {
				continue
			}
			idle := time.Since(lastDataTime)
			switch {
			case idle > s.config.FrameTimeout:
				s.config.logf("接收超时，丢弃 %d 字节", buffer.Len())
				buffer.Reset()
			case idle > frameSettle:
				s.drain(&buffer, true)
			}
		}
	}
}

// readPort feeds chunks until the port is closed or the receiver stops.
func (s *serialReceiverImpl) readPort(chunks chan<- []byte, done chan<- struct{}) {
	defer close(done)
	data := make([]byte, s.config.MaxLength)

	for {
		n, err := s.port.Read(data)
		if n > 0 {
			select {
			case chunks <- append([]byte(nil), data[:n]...):
			case <-s.stopCh:
				return
			}
		}
		if err != nil {
			if isClosedErr(err) {
				return
			}
			if !errors.Is(err, io.EOF) {
				s.config.logf("读取错误: %v", err)
			}
		}
		if n == 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(idlePoll):
			}
		}
	}
}

// drain consumes every complete frame or ping at the front of buffer.
// A window that fails its checksum may be noise in front of a real frame,
// so a later header whose frame checks out wins over a NAK. Unless settled
// is set, drain waits while such a header is still arriving.
func (s *serialReceiverImpl) drain(buffer *bytes.Buffer, settled bool) {
	for buffer.Len() > 0 {
		head := buffer.Bytes()[0]
		switch {
		case head == PingByte:
			buffer.Next(1)
			s.reply(ReplyAck)
		case head&magicMask != FrameMagic:
			// 噪声字节，继续寻找帧头
			buffer.Next(1)
		case buffer.Len() < FrameSize:
			return
		default:
			if _, err := Decode(buffer.Bytes()[:FrameSize]); errors.Is(err, ErrChecksumInvalid) {
				skip, pending := resync(buffer.Bytes())
				if skip > 0 {
					s.config.logf("丢弃 %d 字节噪声，重新同步帧头", skip)
					buffer.Next(skip)
					continue
				}
				if pending && !settled {
					return
				}
			}
			frame := make([]byte, FrameSize)
			copy(frame, buffer.Next(FrameSize))
			s.handleFrame(frame)
		}
	}
}

// resync looks inside the first window of buf for a later header whose
// frame passes the checksum and returns its offset. pending is set when a
// later header is found but its frame has not fully arrived.
func resync(buf []byte) (skip int, pending bool) {
	for i := 1; i < FrameSize && i < len(buf); i++ {
		if buf[i]&magicMask != FrameMagic {
			continue
		}
		if i+FrameSize > len(buf) {
			return 0, true
		}
		if _, err := Decode(buf[i : i+FrameSize]); !errors.Is(err, ErrChecksumInvalid) {
			return i, false
		}
	}
	return 0, false
}

func (s *serialReceiverImpl) handleFrame(frame []byte) {
	rec, err := Decode(frame)
	switch {
	case errors.Is(err, ErrChecksumInvalid):
		s.config.logf("CRC 校验失败: %v", err)
		s.reply(ReplyNak)
		return
	case errors.Is(err, ErrUnsupportedVersion):
		s.config.logf("帧解码失败: %v", err)
		s.reply(ReplyReject, RejectUnsupportedVersion)
		return
	case err != nil:
		s.config.logf("帧解码失败: %v", err)
		s.reply(ReplyReject, RejectMalformed)
		return
	}

	if s.config.ReadCallback != nil {
		if err := s.config.ReadCallback(rec); err != nil {
			code := RejectParameter
			var re *RejectError
			if errors.As(err, &re) {
				code = re.Code
			}
			s.config.logf("配置被拒绝 (0x%02X): %v", code, err)
			s.reply(ReplyReject, code)
			return
		}
	}
	s.reply(ReplyAck)
}

func (s *serialReceiverImpl) reply(status byte, code ...byte) {
	if err := sendFeedback(s.port, status, code...); err != nil {
		s.config.logf("发送反馈失败: %v", err)
	}
}

func (s *serialReceiverImpl) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		err = s.port.Close()
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.doneCh
		}
	})
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

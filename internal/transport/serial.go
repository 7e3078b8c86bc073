package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// ackTimeout bounds how long Send waits for the controller's ACK.
const ackTimeout = 1600 * time.Millisecond

// callbackTimeout bounds how long Send waits for the SendData callback
// once the request is ACKed. Routing to a distant node can take a while.
const callbackTimeout = 65 * time.Second

// txStatusOK is the SendData callback status for a delivered frame.
const txStatusOK uint8 = 0x00

// Serial implements Transport over a serial API controller.
type Serial struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex
	// sendMu keeps one outstanding frame at a time so ACKs match up.
	sendMu     sync.Mutex
	ackCh      chan frameKind
	respCh     chan uint8
	callbackID atomic.Uint32

	// pending maps a SendData callback ID to the channel awaiting its
	// transmit status.
	pendingMu sync.Mutex
	pending   map[uint8]chan uint8

	handlerMu sync.RWMutex
	onFrame   func(Frame)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenSerial opens portName and starts reading frames.
func OpenSerial(portName string, baudRate int, logger *slog.Logger) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", portName, err)
	}

	// USB CDC ACM sticks expect DTR/RTS asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return newSerial(port, logger), nil
}

func newSerial(port io.ReadWriteCloser, logger *slog.Logger) *Serial {
	s := &Serial{
		port:    port,
		reader:  bufio.NewReader(port),
		logger:  logger,
		ackCh:   make(chan frameKind, 4),
		respCh:  make(chan uint8, 1),
		pending: make(map[uint8]chan uint8),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// nextCallbackID allocates a SendData callback ID in 1..255.
func (s *Serial) nextCallbackID() uint8 {
	for {
		if id := uint8(s.callbackID.Add(1)); id != 0 {
			return id
		}
	}
}

func (s *Serial) OnFrame(handler func(Frame)) {
	s.handlerMu.Lock()
	s.onFrame = handler
	s.handlerMu.Unlock()
}

func (s *Serial) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.port.Write(b)
	return err
}

// Send writes a SendData request for f and waits until the controller
// reports the outcome. NAK and CAN are returned as errors and the frame is
// not retransmitted. A refused request or a non-zero transmit status in the
// callback returns ErrTxFailed.
func (s *Serial) Send(ctx context.Context, f Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	cbID := s.nextCallbackID()
	raw, err := encodeSendData(f, cbID)
	if err != nil {
		return err
	}

	// Drain control bytes and responses left over from an abandoned send.
	for len(s.ackCh) > 0 {
		<-s.ackCh
	}
	for len(s.respCh) > 0 {
		<-s.respCh
	}

	statusCh := make(chan uint8, 1)
	s.pendingMu.Lock()
	s.pending[cbID] = statusCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, cbID)
		s.pendingMu.Unlock()
	}()

	if err := s.write(raw); err != nil {
		return fmt.Errorf("transport: serial write: %w", err)
	}
	s.logger.Debug("serial api TX", "func", funcName(funcSendData), "frame", f.String(), "callback", cbID)

	if err := s.awaitACK(ctx, f); err != nil {
		return err
	}

	timer := time.NewTimer(callbackTimeout)
	defer timer.Stop()
	for {
		select {
		case retVal := <-s.respCh:
			if retVal == 0 {
				return fmt.Errorf("%w: controller refused SendData to node %d", ErrTxFailed, f.NodeID)
			}
		case status := <-statusCh:
			if status != txStatusOK {
				s.logger.Warn("serial api transmit failed", "frame", f.String(), "status", status)
				return fmt.Errorf("%w: node %d status 0x%02X", ErrTxFailed, f.NodeID, status)
			}
			return nil
		case <-timer.C:
			s.logger.Warn("serial api callback timeout", "frame", f.String(), "callback", cbID)
			return fmt.Errorf("transport: no SendData callback within %s", callbackTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		}
	}
}

func (s *Serial) awaitACK(ctx context.Context, f Frame) error {
	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case k := <-s.ackCh:
		switch k {
		case kindACK:
			return nil
		case kindNAK:
			return ErrNAK
		default:
			return ErrCAN
		}
	case <-timer.C:
		s.logger.Warn("serial api ACK timeout", "frame", f.String())
		return fmt.Errorf("transport: no ACK within %s", ackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Serial) readLoop() {
	defer s.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-s.done:
			return
		default:
		}

		f, err := readRawFrame(s.reader)
		if errors.Is(err, ErrChecksum) {
			s.logger.Warn("serial api checksum mismatch, sending NAK")
			if err := s.write([]byte{nak}); err != nil {
				s.logger.Error("serial api NAK write failed", "err", err)
			}
			continue
		}
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if err != io.EOF && !strings.Contains(err.Error(), "closed") {
					s.logger.Error("serial read error", "err", err)
				}
				select {
				case <-time.After(backoff):
				case <-s.done:
					return
				}
				if backoff < maxBackoff {
					backoff = min(backoff*2, maxBackoff)
				}
				continue
			}
		}
		backoff = 10 * time.Millisecond

		if f.Kind != kindData {
			select {
			case s.ackCh <- f.Kind:
			default:
			}
			continue
		}

		if err := s.write([]byte{ack}); err != nil {
			s.logger.Error("serial api ACK write failed", "err", err)
		}
		s.handleData(f)
	}
}

func (s *Serial) handleData(f *rawFrame) {
	if f.Func == funcSendData {
		s.handleSendData(f)
		return
	}
	if f.Type != typeRequest || f.Func != funcApplicationCommandHandler {
		s.logger.Debug("serial api RX", "type", f.Type, "func", funcName(f.Func), "data", fmt.Sprintf("%X", f.Data))
		return
	}
	frame, err := parseApplicationCommand(f.Data)
	if err != nil {
		s.logger.Warn("serial api bad application command", "err", err)
		return
	}
	s.logger.Debug("serial api RX", "func", funcName(f.Func), "frame", frame.String())

	s.handlerMu.RLock()
	h := s.onFrame
	s.handlerMu.RUnlock()
	if h != nil {
		h(frame)
	}
}

// handleSendData routes the SendData response to the sender and the
// callback, cbID then txStatus, to whoever waits on that callback ID.
func (s *Serial) handleSendData(f *rawFrame) {
	if f.Type == typeResponse {
		if len(f.Data) < 1 {
			s.logger.Warn("serial api empty SendData response")
			return
		}
		select {
		case s.respCh <- f.Data[0]:
		default:
		}
		return
	}
	if len(f.Data) < 2 {
		s.logger.Warn("serial api short SendData callback", "data", fmt.Sprintf("%X", f.Data))
		return
	}
	cbID, status := f.Data[0], f.Data[1]
	s.pendingMu.Lock()
	ch, ok := s.pending[cbID]
	s.pendingMu.Unlock()
	if !ok {
		s.logger.Debug("serial api callback without sender", "callback", cbID, "status", status)
		return
	}
	select {
	case ch <- status:
	default:
	}
}

// Close stops the read loop and closes the port.
func (s *Serial) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
	})
	s.wg.Wait()
	return err
}

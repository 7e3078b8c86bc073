package transport

// Serial API frame codec: SOF LEN TYPE FUNC data... CHK.
// LEN counts TYPE through CHK; CHK is 0xFF XOR every byte from LEN to the
// last data byte.

import (
	"bufio"
	"fmt"
)

// Single-byte control frames and the start-of-frame marker.
const (
	sof uint8 = 0x01
	ack uint8 = 0x06
	nak uint8 = 0x15
	can uint8 = 0x18
)

// Frame types.
const (
	typeRequest  uint8 = 0x00
	typeResponse uint8 = 0x01
)

// Function IDs used by this host.
const (
	funcApplicationCommandHandler uint8 = 0x04
	funcSendData                  uint8 = 0x13
)

// Transmit options for SendData: ACK, auto route, explore.
const defaultTxOptions uint8 = 0x01 | 0x04 | 0x20

// maxDataLen keeps LEN within one byte: LEN = TYPE + FUNC + data + CHK.
const maxDataLen = 0xFF - 3

func funcName(id uint8) string {
	switch id {
	case funcApplicationCommandHandler:
		return "ApplicationCommandHandler"
	case funcSendData:
		return "SendData"
	default:
		return fmt.Sprintf("0x%02X", id)
	}
}

type frameKind uint8

const (
	kindData frameKind = iota
	kindACK
	kindNAK
	kindCAN
)

func (k frameKind) String() string {
	switch k {
	case kindACK:
		return "ACK"
	case kindNAK:
		return "NAK"
	case kindCAN:
		return "CAN"
	default:
		return "DATA"
	}
}

// rawFrame is one serial API frame as read from the wire.
type rawFrame struct {
	Kind frameKind
	Type uint8
	Func uint8
	Data []byte
}

func checksum(b []byte) uint8 {
	c := uint8(0xFF)
	for _, x := range b {
		c ^= x
	}
	return c
}

// encodeDataFrame builds a complete data frame including SOF and checksum.
func encodeDataFrame(frameType, fn uint8, data []byte) ([]byte, error) {
	if len(data) > maxDataLen {
		return nil, fmt.Errorf("serial api: data length %d exceeds %d", len(data), maxDataLen)
	}
	buf := make([]byte, 0, 5+len(data))
	buf = append(buf, sof, uint8(len(data)+3), frameType, fn)
	buf = append(buf, data...)
	buf = append(buf, checksum(buf[1:]))
	return buf, nil
}

// readRawFrame reads the next frame from r, skipping bytes that cannot start
// one. A data frame with a bad checksum is returned together with ErrChecksum
// so the caller can NAK it.
func readRawFrame(r *bufio.Reader) (*rawFrame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case ack:
			return &rawFrame{Kind: kindACK}, nil
		case nak:
			return &rawFrame{Kind: kindNAK}, nil
		case can:
			return &rawFrame{Kind: kindCAN}, nil
		case sof:
		default:
			continue
		}

		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if n < 3 {
			return nil, fmt.Errorf("serial api: frame length %d too short: %w", n, ErrChecksum)
		}
		body := make([]byte, 1+int(n))
		body[0] = n
		for i := 1; i < len(body); i++ {
			if body[i], err = r.ReadByte(); err != nil {
				return nil, err
			}
		}
		f := &rawFrame{Kind: kindData, Type: body[1], Func: body[2], Data: body[3 : len(body)-1]}
		if checksum(body[:len(body)-1]) != body[len(body)-1] {
			return f, ErrChecksum
		}
		return f, nil
	}
}

// encodeSendData builds the SendData request carrying f.
func encodeSendData(f Frame, callbackID uint8) ([]byte, error) {
	cmdLen := 2 + len(f.Payload)
	if cmdLen > 0xFF {
		return nil, fmt.Errorf("serial api: command length %d exceeds 255", cmdLen)
	}
	data := make([]byte, 0, 4+cmdLen+2)
	data = append(data, f.NodeID, uint8(cmdLen), f.ClassID, f.CommandID)
	data = append(data, f.Payload...)
	data = append(data, defaultTxOptions, callbackID)
	return encodeDataFrame(typeRequest, funcSendData, data)
}

// parseApplicationCommand extracts the command frame from an
// ApplicationCommandHandler request: rxStatus, srcNode, len, class, cmd, payload.
func parseApplicationCommand(data []byte) (Frame, error) {
	if len(data) < 3 {
		return Frame{}, fmt.Errorf("serial api: application command too short: %d bytes", len(data))
	}
	cmdLen := int(data[2])
	if cmdLen < 2 || len(data) < 3+cmdLen {
		return Frame{}, fmt.Errorf("serial api: application command length %d with %d bytes", cmdLen, len(data)-3)
	}
	cmd := data[3 : 3+cmdLen]
	return Frame{
		NodeID:    data[1],
		ClassID:   cmd[0],
		CommandID: cmd[1],
		Payload:   append([]byte(nil), cmd[2:]...),
	}, nil
}

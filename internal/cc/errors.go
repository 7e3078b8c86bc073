package cc

import (
	"errors"
	"fmt"
)

// Sentinel errors for matching with errors.Is.
var (
	ErrPayloadTooShort               = errors.New("cc: payload too short")
	ErrInvalidPayload                = errors.New("cc: invalid payload")
	ErrUnsupportedCommand            = errors.New("cc: unsupported command")
	ErrDeserializationNotImplemented = errors.New("cc: deserialization not implemented")
	ErrEncodeContract                = errors.New("cc: encode contract violation")
)

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind uint8

const (
	KindPayloadTooShort DecodeErrorKind = iota + 1
	KindInvalidPayload
	KindUnsupportedCommand
	KindDeserializationNotImplemented
)

func (k DecodeErrorKind) String() string {
	switch k {
	case KindPayloadTooShort:
		return "payload_too_short"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindUnsupportedCommand:
		return "unsupported_command"
	case KindDeserializationNotImplemented:
		return "deserialization_not_implemented"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DecodeError is returned for a frame that cannot be decoded. It is always
// recoverable: the frame is dropped and the caller carries on.
type DecodeError struct {
	Kind      DecodeErrorKind
	ClassID   uint8
	CommandID uint8
	Need      int    // PayloadTooShort only
	Got       int    // PayloadTooShort only
	Detail    string // InvalidPayload only
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindPayloadTooShort:
		return fmt.Sprintf("cc: payload too short: need %d, have %d", e.Need, e.Got)
	case KindInvalidPayload:
		return "cc: invalid payload: " + e.Detail
	case KindUnsupportedCommand:
		return fmt.Sprintf("cc: unsupported command 0x%02X/0x%02X", e.ClassID, e.CommandID)
	case KindDeserializationNotImplemented:
		return fmt.Sprintf("cc: deserialization not implemented for 0x%02X/0x%02X", e.ClassID, e.CommandID)
	}
	return "cc: decode error"
}

// Is lets errors.Is match a DecodeError against the package sentinels.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrPayloadTooShort:
		return e.Kind == KindPayloadTooShort
	case ErrInvalidPayload:
		return e.Kind == KindInvalidPayload
	case ErrUnsupportedCommand:
		return e.Kind == KindUnsupportedCommand
	case ErrDeserializationNotImplemented:
		return e.Kind == KindDeserializationNotImplemented
	}
	return false
}

// EncodeError reports a caller asking for an encoding the negotiated version
// cannot represent. It is a programming error, never a network condition.
type EncodeError struct {
	ClassID   uint8
	CommandID uint8
	Version   uint8
	Reason    string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cc: encode contract violation for 0x%02X/0x%02X at v%d: %s",
		e.ClassID, e.CommandID, e.Version, e.Reason)
}

func (e *EncodeError) Is(target error) bool {
	return target == ErrEncodeContract
}

func invalidPayload(format string, args ...any) *DecodeError {
	return &DecodeError{Kind: KindInvalidPayload, Detail: fmt.Sprintf(format, args...)}
}

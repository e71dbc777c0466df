package cbpp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Limits bounds what a Reader will accept, mirroring the fixed-frame
// decoder's own size ceilings.
type Limits struct {
	MaxPayloadBytes   uint64
	MaxControlBytes   uint64
	MaxStringParamLen uint64
}

// DefaultLimits returns the ceilings used when a Reader is built with
// NewReader.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes:   16 * 1024 * 1024,
		MaxControlBytes:   64 * 1024,
		MaxStringParamLen: 4096,
	}
}

var (
	ErrPayloadTooLarge = errors.New("cbpp: payload exceeds limit")
	ErrControlTooLarge = errors.New("cbpp: control payload exceeds limit")
	ErrStringTooLarge  = errors.New("cbpp: control string param exceeds limit")
	ErrTrailingControl = errors.New("cbpp: control payload has trailing bytes")
)

// Callbacks receives decoded events as a Reader consumes bytes. A data
// message with a large payload may deliver several OnDataMessagePayload
// calls between the matching header and end calls.
type Callbacks interface {
	OnDataMessageHeader(messageID uint16, payloadLen uint64) error
	OnDataMessagePayload(chunk []byte) error
	OnDataMessageEnd() error
	OnControlMessage(msg ControlMessage) error
}

type readerState int

const (
	stateMessageID readerState = iota
	statePayloadLen
	statePayload
	stateControlBody
)

// Reader is an incremental CBPP decoder: push bytes in with PutEncodedData
// as they arrive off the wire, and it invokes Callbacks for each complete
// message id, payload chunk, end marker, or control frame it recognizes.
// It never blocks and never reads ahead of what has been handed to it.
type Reader struct {
	cb     Callbacks
	limits Limits

	buf   []byte
	state readerState

	messageID  uint16
	payloadLen uint64
	remaining  uint64
}

// NewReader returns a Reader that delivers decoded events to cb.
func NewReader(cb Callbacks, limits Limits) *Reader {
	return &Reader{cb: cb, limits: limits}
}

// PutEncodedData feeds newly-received bytes to the decoder, driving as
// many Callbacks invocations as the buffered data allows.
func (r *Reader) PutEncodedData(data []byte) error {
	r.buf = append(r.buf, data...)
	for {
		advanced, err := r.step()
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// step attempts one state transition, consuming from the front of r.buf.
// It returns advanced=false when there is not yet enough buffered data
// to make progress.
func (r *Reader) step() (advanced bool, err error) {
	switch r.state {
	case stateMessageID:
		if len(r.buf) < 2 {
			return false, nil
		}
		r.messageID = binary.LittleEndian.Uint16(r.buf[:2])
		r.buf = r.buf[2:]
		r.state = statePayloadLen
		return true, nil

	case statePayloadLen:
		n, consumed, ok := DecodeVaruint(r.buf)
		if !ok {
			return false, nil
		}
		if r.messageID == 0 {
			if n > r.limits.MaxControlBytes {
				return false, ErrControlTooLarge
			}
		} else if n > r.limits.MaxPayloadBytes {
			return false, ErrPayloadTooLarge
		}
		r.buf = r.buf[consumed:]
		r.payloadLen = n
		r.remaining = n
		if r.messageID == 0 {
			r.state = stateControlBody
		} else {
			r.state = statePayload
			if err := r.cb.OnDataMessageHeader(r.messageID, r.payloadLen); err != nil {
				return false, err
			}
		}
		return true, nil

	case statePayload:
		if r.remaining == 0 {
			r.state = stateMessageID
			return true, r.cb.OnDataMessageEnd()
		}
		if len(r.buf) == 0 {
			return false, nil
		}
		take := uint64(len(r.buf))
		if take > r.remaining {
			take = r.remaining
		}
		chunk := r.buf[:take]
		r.buf = r.buf[take:]
		r.remaining -= take
		if err := r.cb.OnDataMessagePayload(chunk); err != nil {
			return false, err
		}
		return true, nil

	case stateControlBody:
		if uint64(len(r.buf)) < r.payloadLen {
			return false, nil
		}
		body := r.buf[:r.payloadLen]
		r.buf = r.buf[r.payloadLen:]
		r.state = stateMessageID
		msg, err := decodeControlBody(body, r.limits)
		if err != nil {
			return false, err
		}
		return true, r.cb.OnControlMessage(msg)

	default:
		return false, fmt.Errorf("cbpp: unreachable reader state %d", r.state)
	}
}

func decodeControlBody(body []byte, limits Limits) (ControlMessage, error) {
	code, n, ok := DecodeVarint(body)
	if !ok {
		return ControlMessage{}, fmt.Errorf("cbpp: control body too short for control_code")
	}
	body = body[n:]

	vint, n, ok := DecodeVarint(body)
	if !ok {
		return ControlMessage{}, fmt.Errorf("cbpp: control body too short for vint_param")
	}
	body = body[n:]

	strlen, n, ok := DecodeVaruint(body)
	if !ok {
		return ControlMessage{}, fmt.Errorf("cbpp: control body too short for strlen")
	}
	body = body[n:]

	if strlen > limits.MaxStringParamLen {
		return ControlMessage{}, ErrStringTooLarge
	}
	if uint64(len(body)) < strlen {
		return ControlMessage{}, fmt.Errorf("cbpp: control body too short for string_param")
	}
	str := string(body[:strlen])
	body = body[strlen:]

	if len(body) != 0 {
		return ControlMessage{}, ErrTrailingControl
	}

	return ControlMessage{
		Code:        ControlCode(code),
		VintParam:   vint,
		StringParam: str,
	}, nil
}

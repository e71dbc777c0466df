package cbpp

import (
	"bytes"
	"testing"
)

func TestVaruintBoundaries(t *testing.T) {
	cases := []uint64{0, 1, 0xFD, 0xFE, 0xFFFF, 0x10000, 1 << 32, (1 << 32) + 1}
	for _, v := range cases {
		buf := AppendVaruint(nil, v)
		got, n, ok := DecodeVaruint(buf)
		if !ok {
			t.Fatalf("DecodeVaruint(%d): incomplete", v)
		}
		if n != len(buf) {
			t.Fatalf("DecodeVaruint(%d): consumed %d, want %d", v, n, len(buf))
		}
		if got != v {
			t.Fatalf("DecodeVaruint round trip: got %d, want %d", got, v)
		}
	}
}

func TestVaruintEncodingWidths(t *testing.T) {
	if n := len(AppendVaruint(nil, 0xFD)); n != 1 {
		t.Fatalf("0xFD encoded in %d bytes, want 1", n)
	}
	if n := len(AppendVaruint(nil, 0xFE)); n != 3 {
		t.Fatalf("0xFE encoded in %d bytes, want 3", n)
	}
	if n := len(AppendVaruint(nil, 0xFFFF)); n != 3 {
		t.Fatalf("0xFFFF encoded in %d bytes, want 3", n)
	}
	if n := len(AppendVaruint(nil, 0x10000)); n != 9 {
		t.Fatalf("0x10000 encoded in %d bytes, want 9", n)
	}
}

func TestVarintZigzagRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 2, -2, 1000, -1000, 1 << 40, -(1 << 40)}
	for _, v := range cases {
		buf := AppendVarint(nil, v)
		got, _, ok := DecodeVarint(buf)
		if !ok {
			t.Fatalf("DecodeVarint(%d): incomplete", v)
		}
		if got != v {
			t.Fatalf("DecodeVarint round trip: got %d, want %d", got, v)
		}
	}
}

type recordingCallbacks struct {
	headers  []uint64
	ids      []uint16
	payloads [][]byte
	ends     int
	controls []ControlMessage
}

func (r *recordingCallbacks) OnDataMessageHeader(messageID uint16, payloadLen uint64) error {
	r.ids = append(r.ids, messageID)
	r.headers = append(r.headers, payloadLen)
	return nil
}

func (r *recordingCallbacks) OnDataMessagePayload(chunk []byte) error {
	r.payloads = append(r.payloads, append([]byte{}, chunk...))
	return nil
}

func (r *recordingCallbacks) OnDataMessageEnd() error {
	r.ends++
	return nil
}

func (r *recordingCallbacks) OnControlMessage(msg ControlMessage) error {
	r.controls = append(r.controls, msg)
	return nil
}

func TestReaderWriterDataMessageRoundTrip(t *testing.T) {
	payload := []byte("hello cbpp")
	wire := PutDataMessage(nil, 7, payload)

	cb := &recordingCallbacks{}
	r := NewReader(cb, DefaultLimits())
	if err := r.PutEncodedData(wire); err != nil {
		t.Fatalf("PutEncodedData: %v", err)
	}

	if len(cb.ids) != 1 || cb.ids[0] != 7 {
		t.Fatalf("ids = %v, want [7]", cb.ids)
	}
	if len(cb.headers) != 1 || cb.headers[0] != uint64(len(payload)) {
		t.Fatalf("headers = %v, want [%d]", cb.headers, len(payload))
	}
	got := bytes.Join(cb.payloads, nil)
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
	if cb.ends != 1 {
		t.Fatalf("ends = %d, want 1", cb.ends)
	}
}

func TestReaderWriterControlMessageRoundTrip(t *testing.T) {
	wire := PutControlMessage(nil, CtlPing, 99, "2026-08-06T00:00:00Z")

	cb := &recordingCallbacks{}
	r := NewReader(cb, DefaultLimits())
	if err := r.PutEncodedData(wire); err != nil {
		t.Fatalf("PutEncodedData: %v", err)
	}

	if len(cb.controls) != 1 {
		t.Fatalf("controls = %v, want 1 entry", cb.controls)
	}
	msg := cb.controls[0]
	if msg.Code != CtlPing || msg.VintParam != 99 || msg.StringParam != "2026-08-06T00:00:00Z" {
		t.Fatalf("decoded control message = %+v", msg)
	}
}

func TestReaderHandlesByteByByteFeed(t *testing.T) {
	wire := PutDataMessage(nil, 3, []byte("chunked"))

	cb := &recordingCallbacks{}
	r := NewReader(cb, DefaultLimits())
	for i := 0; i < len(wire); i++ {
		if err := r.PutEncodedData(wire[i : i+1]); err != nil {
			t.Fatalf("PutEncodedData byte %d: %v", i, err)
		}
	}

	if cb.ends != 1 {
		t.Fatalf("ends = %d, want 1", cb.ends)
	}
	got := bytes.Join(cb.payloads, nil)
	if string(got) != "chunked" {
		t.Fatalf("payload = %q, want %q", got, "chunked")
	}
}

func TestReaderRejectsOversizedPayload(t *testing.T) {
	wire := PutDataMessage(nil, 1, make([]byte, 64))

	cb := &recordingCallbacks{}
	r := NewReader(cb, Limits{MaxPayloadBytes: 8, MaxControlBytes: 64, MaxStringParamLen: 64})
	if err := r.PutEncodedData(wire); err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodesRawLittleEndianWireVectors(t *testing.T) {
	cb := &recordingCallbacks{}
	r := NewReader(cb, DefaultLimits())

	// id=1, size=3, payload "ABC": message id and varuint bodies are
	// little-endian on the wire.
	if err := r.PutEncodedData([]byte{0x01, 0x00, 0x03, 0x41, 0x42, 0x43}); err != nil {
		t.Fatalf("PutEncodedData: %v", err)
	}
	if len(cb.ids) != 1 || cb.ids[0] != 1 {
		t.Fatalf("ids = %v, want [1]", cb.ids)
	}
	if len(cb.headers) != 1 || cb.headers[0] != 3 {
		t.Fatalf("headers = %v, want [3]", cb.headers)
	}
	if got := bytes.Join(cb.payloads, nil); string(got) != "ABC" {
		t.Fatalf("payload = %q, want %q", got, "ABC")
	}

	// id=1, size=256 via the escape16 varuint body, little-endian.
	cb2 := &recordingCallbacks{}
	r2 := NewReader(cb2, DefaultLimits())
	wire := append([]byte{0x01, 0x00, 0xFE, 0x00, 0x01}, make([]byte, 256)...)
	if err := r2.PutEncodedData(wire); err != nil {
		t.Fatalf("PutEncodedData: %v", err)
	}
	if len(cb2.ids) != 1 || cb2.ids[0] != 1 {
		t.Fatalf("ids = %v, want [1]", cb2.ids)
	}
	if len(cb2.headers) != 1 || cb2.headers[0] != 256 {
		t.Fatalf("headers = %v, want [256]", cb2.headers)
	}
}

func TestReaderRejectsUnknownTrailingBytesInControlBody(t *testing.T) {
	var body []byte
	body = AppendVarint(body, int64(CtlHeartbeat))
	body = AppendVarint(body, 0)
	body = AppendVaruint(body, 0)
	body = append(body, 0xFF) // stray trailing byte

	wire := append([]byte{0, 0}, AppendVaruint(nil, uint64(len(body)))...)
	wire = append(wire, body...)

	cb := &recordingCallbacks{}
	r := NewReader(cb, DefaultLimits())
	if err := r.PutEncodedData(wire); err != ErrTrailingControl {
		t.Fatalf("err = %v, want ErrTrailingControl", err)
	}
}

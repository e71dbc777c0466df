package module

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FieldHeaderLen is the fixed [id:2][type:1][length:4] header preceding
// every field's value in an encoded TLVContexts blob.
const FieldHeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("module: short context field header")
	ErrShortFieldValue  = errors.New("module: short context field value")
)

// Context field type tags, carried alongside each field's id so a reader
// that doesn't recognize an id can still sanity-check its shape.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// ContextField is one entry a module's init function can report back as
// part of its Contexts, the Go stand-in for the reference
// implementation's opaque per-module ModuleContexts bag.
type ContextField struct {
	ID    uint16
	Type  uint8
	Value []byte
}

// TLVContexts is a Contexts value built from a flat list of tagged
// fields — a module that has no need for a custom Go struct can return
// one of these from its init function instead.
type TLVContexts []ContextField

// EncodeTLVContexts serializes fields back to the same [id][type][len]
// [value] wire shape DecodeTLVContexts reads, for modules that persist
// or forward their context bag rather than keeping it only in memory.
func EncodeTLVContexts(fields TLVContexts) []byte {
	out := make([]byte, 0, len(fields)*FieldHeaderLen)
	for _, f := range fields {
		out = append(out, encodeContextField(f)...)
	}
	return out
}

func encodeContextField(f ContextField) []byte {
	buf := make([]byte, FieldHeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

// DecodeTLVContexts parses a flat buffer of back-to-back fields.
func DecodeTLVContexts(payload []byte) (TLVContexts, error) {
	fields := make(TLVContexts, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < FieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += FieldHeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, ContextField{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

// Get returns the first field with the given id.
func (fields TLVContexts) Get(id uint16) (ContextField, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return ContextField{}, false
}

// MustType returns an error if f is not tagged as expected.
func MustType(f ContextField, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("module: context field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}

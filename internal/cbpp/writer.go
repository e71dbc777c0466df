package cbpp

import "encoding/binary"

// PutDataMessage encodes a full data message: [u16 message_id][varuint
// payload_size][payload]. It is the caller's job to split large payloads
// across multiple calls on the wire if that matters to them; this
// function always emits one complete frame.
func PutDataMessage(buf []byte, messageID uint16, payload []byte) []byte {
	var idBytes [2]byte
	binary.LittleEndian.PutUint16(idBytes[:], messageID)
	buf = append(buf, idBytes[:]...)
	buf = AppendVaruint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// PutControlMessage encodes a control frame: message id 0 followed by a
// varuint-prefixed body of [varint control_code][varint vint_param]
// [varuint strlen][utf8 string_param].
func PutControlMessage(buf []byte, code ControlCode, vintParam int64, stringParam string) []byte {
	body := make([]byte, 0, 16+len(stringParam))
	body = AppendVarint(body, int64(code))
	body = AppendVarint(body, vintParam)
	body = AppendVaruint(body, uint64(len(stringParam)))
	body = append(body, stringParam...)

	var idBytes [2]byte
	binary.LittleEndian.PutUint16(idBytes[:], 0)
	buf = append(buf, idBytes[:]...)
	buf = AppendVaruint(buf, uint64(len(body)))
	buf = append(buf, body...)
	return buf
}

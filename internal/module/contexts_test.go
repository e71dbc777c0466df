package module

import (
	"encoding/binary"
	"testing"
)

func TestTLVContextsRoundTrip(t *testing.T) {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 7)

	fields := TLVContexts{
		{ID: 1, Type: TypeString, Value: []byte("hello")},
		{ID: 2, Type: TypeU32, Value: u32[:]},
	}

	encoded := EncodeTLVContexts(fields)
	decoded, err := DecodeTLVContexts(encoded)
	if err != nil {
		t.Fatalf("DecodeTLVContexts: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded len = %d, want 2", len(decoded))
	}

	f, ok := decoded.Get(1)
	if !ok || string(f.Value) != "hello" {
		t.Fatalf("field 1 = %+v", f)
	}
	if err := MustType(f, TypeString); err != nil {
		t.Fatalf("MustType: %v", err)
	}
}

func TestDecodeTLVContextsRejectsShortHeader(t *testing.T) {
	if _, err := DecodeTLVContexts([]byte{0, 1}); err != ErrShortFieldHeader {
		t.Fatalf("err = %v, want ErrShortFieldHeader", err)
	}
}

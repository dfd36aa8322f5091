package wire_test

import (
	"testing"

	"github.com/jlango/doors/wire"
	"github.com/kylelemons/godebug/pretty"
)

func TestErrorFrameRoundTrip(t *testing.T) {
	in := wire.ErrorFrame{Value: -int32(9)} // -EBADF-ish sentinel
	got, ok := wire.DecodeErrorFrame(in.Marshal())
	if !ok {
		t.Fatalf("DecodeErrorFrame: not ok")
	}
	if diff := pretty.Compare(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestFrameRoundTrip(t *testing.T) {
	for _, sub := range []wire.Request{wire.ReqInfo, wire.ReqDataMax, wire.ReqDataMin, wire.ReqDescMax} {
		in := wire.RequestFrame{Sub: sub}
		got, ok := wire.DecodeRequestFrame(in.Marshal())
		if !ok {
			t.Fatalf("DecodeRequestFrame(%v): not ok", sub)
		}
		if got != in {
			t.Errorf("sub %v: got %+v, want %+v", sub, got, in)
		}
	}
}

func TestInfoFrameRoundTrip(t *testing.T) {
	in := wire.InfoFrame{
		Attr:      0x20,
		TargetPID: 4242,
		ProcPtr:   0xdeadbeef,
		Cookie:    0xcafef00d,
		ID:        123456789,
	}
	got, ok := wire.DecodeInfoFrame(in.Marshal())
	if !ok {
		t.Fatalf("DecodeInfoFrame: not ok")
	}
	if diff := pretty.Compare(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCallFrameRoundTrip(t *testing.T) {
	payload := []byte("Hello, world!")
	framed := wire.MarshalCall(payload)

	h, ok := wire.DecodeCallHeader(framed[:wire.CallHeaderSize])
	if !ok {
		t.Fatalf("DecodeCallHeader: not ok")
	}
	if h.NDesc != 0 {
		t.Errorf("NDesc = %d, want 0", h.NDesc)
	}
	if h.ArgSize != uint64(len(payload)) {
		t.Errorf("ArgSize = %d, want %d", h.ArgSize, len(payload))
	}

	gotPayload := framed[wire.CallHeaderSize:]
	if string(gotPayload) != string(payload) {
		t.Errorf("payload = %q, want %q", gotPayload, payload)
	}
}

func TestReturnFrameRoundTripEmptyPayload(t *testing.T) {
	framed := wire.MarshalReturn(nil)
	h, ok := wire.DecodeReturnHeader(framed)
	if !ok {
		t.Fatalf("DecodeReturnHeader: not ok")
	}
	if h.DataSize != 0 {
		t.Errorf("DataSize = %d, want 0", h.DataSize)
	}
	if len(framed) != wire.ReturnHeaderSize {
		t.Errorf("len(framed) = %d, want %d", len(framed), wire.ReturnHeaderSize)
	}
}

func TestPeekCodeDistinguishesUnexpectedKind(t *testing.T) {
	framed := wire.MarshalReturn([]byte("x"))
	if got := wire.PeekCode(framed); got != wire.CodeDoorReturn {
		t.Errorf("PeekCode = %v, want %v", got, wire.CodeDoorReturn)
	}

	_, ok := wire.DecodeCallHeader(framed)
	if ok {
		t.Errorf("DecodeCallHeader unexpectedly succeeded on a door_return frame")
	}
}

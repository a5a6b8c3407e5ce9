package wire

import (
	"errors"
	"testing"
)

func TestMakeHead_bitLayout(t *testing.T) {
	t.Parallel()

	f := MakeHead(0, Data, 0x0000, 0x0001, 0)

	// type=01, length=0 -> 0x40; header/src/pid zero; dst 0x0001; the
	// trailing byte is the wrapping sum of the first seven.
	want := [8]byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x41}
	if got := f.Bytes(); got != want {
		t.Fatalf("head bytes = % x, want % x", got, want)
	}

	info, err := f.Head()
	if err != nil {
		t.Fatalf("Head() error: %v", err)
	}
	if info.Length != 0 || info.Header != Data || info.Src != 0 || info.Dst != 1 || info.PacketID != 0 {
		t.Errorf("Head() = %+v, want length=0 header=data src=0 dst=1 packet_id=0", info)
	}
}

func TestFlitType_tags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		flit Flit
		want FlitType
	}{
		{"nope", MakeNope(), FlitNope},
		{"head", MakeHead(1, CheckConnection, 2, 3, 4), FlitHead},
		{"body", MakeBody(1, [6]byte{}), FlitBody},
		{"tail", MakeTail(2, [6]byte{}), FlitTail},
	}
	for _, tc := range cases {
		if got := tc.flit.Type(); got != tc.want {
			t.Errorf("%s: Type() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBodyAndTail_roundTrip(t *testing.T) {
	t.Parallel()

	payload := [6]byte{0, 1, 2, 3, 4, 5}

	body := MakeBody(0x3F, payload)
	info, err := body.Body()
	if err != nil {
		t.Fatalf("Body() error: %v", err)
	}
	if info.Type != FlitBody || info.FlitID != 0x3F || info.Payload != payload {
		t.Errorf("Body() = %+v, want body flit_id=63 payload=% x", info, payload)
	}

	tail := MakeTail(7, payload)
	info, err = tail.Body()
	if err != nil {
		t.Fatalf("Body() on tail error: %v", err)
	}
	if info.Type != FlitTail || info.FlitID != 7 {
		t.Errorf("Body() on tail = %+v, want tail flit_id=7", info)
	}
}

func TestChecksum_invariant(t *testing.T) {
	t.Parallel()

	flits := []Flit{
		MakeHead(5, Data, 0x1234, 0xFFFF, 200),
		MakeHead(1, RequestConfirmedCoord, 0x0029, 0xFFFF, 0),
		MakeBody(3, [6]byte{0xFF, 0x80, 1, 2, 3, 4}),
		MakeTail(62, [6]byte{9, 9, 9, 9, 9, 9}),
	}
	for _, f := range flits {
		b := f.Bytes()
		if Checksum(b) != b[7] {
			t.Errorf("flit % x: checksum %#02x, stored %#02x", b, Checksum(b), b[7])
		}
	}
}

func TestHead_corruptedChecksum(t *testing.T) {
	t.Parallel()

	b := MakeHead(2, Data, 1, 2, 3).Bytes()
	b[4] ^= 0x10
	if _, err := FlitFromBytes(b).Head(); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Head() on corrupted frame: error %v, want ErrChecksumMismatch", err)
	}

	b = MakeBody(1, [6]byte{1, 2, 3, 4, 5, 6}).Bytes()
	b[2] ^= 0x01
	if _, err := FlitFromBytes(b).Body(); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Body() on corrupted frame: error %v, want ErrChecksumMismatch", err)
	}
}

func TestHead_wrongType(t *testing.T) {
	t.Parallel()

	if _, err := MakeBody(1, [6]byte{}).Head(); !errors.Is(err, ErrUnexpectedFlitType) {
		t.Errorf("Head() on body: error %v, want ErrUnexpectedFlitType", err)
	}
	if _, err := MakeHead(1, Data, 0, 1, 0).Body(); !errors.Is(err, ErrUnexpectedFlitType) {
		t.Errorf("Body() on head: error %v, want ErrUnexpectedFlitType", err)
	}
}

func TestHead_unknownHeader(t *testing.T) {
	t.Parallel()

	f := MakeHead(1, Header(0x7F), 0, 1, 0)
	if _, err := f.Head(); !errors.Is(err, ErrUnknownHeader) {
		t.Errorf("Head() with header 0x7f: error %v, want ErrUnknownHeader", err)
	}
}

func TestAckOf_matchesSender(t *testing.T) {
	t.Parallel()

	sent := MakeHead(4, Data, 0x0010, 0x0020, 9)
	ack, err := AckOf(sent)
	if err != nil {
		t.Fatalf("AckOf() error: %v", err)
	}

	info, err := ack.Head()
	if err != nil {
		t.Fatalf("ack Head() error: %v", err)
	}
	if info.Header != SystemAck {
		t.Errorf("ack header = %v, want SystemAck", info.Header)
	}
	if info.PacketID != 9 {
		t.Errorf("ack packet id = %d, want 9", info.PacketID)
	}

	if !ack.IsAckFor(0x0020, 9) {
		t.Error("sender must accept the ack: src equals the sent dst, packet id matches")
	}
	if ack.IsAckFor(0x0020, 8) {
		t.Error("ack with wrong packet id must not match")
	}
	if ack.IsAckFor(0x0021, 9) {
		t.Error("ack from the wrong unit must not match")
	}
}

func TestHeader_flags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		h        Header
		headOnly bool
		ack      bool
	}{
		{Data, false, true},
		{GeneralAck, false, true},
		{ErrorReport, false, true},
		{CheckConnection, true, false},
		{RequestConfirmedCoord, true, false},
		{ConfirmCoordinate, false, false},
		{SendParentID, false, true},
		{ReceiveParentID, false, true},
		{SendChildID, false, true},
		{ReceiveChildID, false, true},
		{SystemAck, true, false},
	}
	for _, tc := range cases {
		if got := tc.h.IsHeadOnly(); got != tc.headOnly {
			t.Errorf("%v: IsHeadOnly() = %t, want %t", tc.h, got, tc.headOnly)
		}
		if got := tc.h.RequiresAck(); got != tc.ack {
			t.Errorf("%v: RequiresAck() = %t, want %t", tc.h, got, tc.ack)
		}
	}
}

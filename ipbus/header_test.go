package ipbus

import "testing"

func TestPacketHeaderRoundTrip(t *testing.T) {
	for _, pt := range []PacketType{Control, Status, Resend} {
		word := EncodePacketHeader(pt, 0x1234)
		got := DecodePacketHeader(word)
		if got.Version != ProtocolVersion {
			t.Errorf("%s: version = %d, want %d", pt, got.Version, ProtocolVersion)
		}
		if got.ID != 0x1234 {
			t.Errorf("%s: id = %#x, want 0x1234", pt, got.ID)
		}
		if got.Type != pt {
			t.Errorf("%s: type = %s, want %s", pt, got.Type, pt)
		}
	}
}

func TestStatusHeaderConstant(t *testing.T) {
	if statusRequestHeader != 0x200000F1 {
		t.Fatalf("status header = %#08x, want 0x200000f1", statusRequestHeader)
	}
}

func TestControlHeaderConstant(t *testing.T) {
	if got := EncodePacketHeader(Control, 0); got != 0x200000F0 {
		t.Fatalf("control header id=0 = %#08x, want 0x200000f0", got)
	}
}

func TestTransactionHeaderRoundTrip(t *testing.T) {
	for _, tid := range []TypeID{Read, Write, NonIncrementingRead, NonIncrementingWrite, RmwBits, RmwSum, ConfigurationRead, ConfigurationWrite} {
		word := EncodeTransactionHeader(tid, 7, 0x0ab)
		got := DecodeTransactionHeader(word)
		if got.Version != ProtocolVersion {
			t.Errorf("%s: version = %d, want %d", tid, got.Version, ProtocolVersion)
		}
		if got.ID != 0x0ab {
			t.Errorf("%s: id = %#x, want 0xab", tid, got.ID)
		}
		if got.Words != 7 {
			t.Errorf("%s: words = %d, want 7", tid, got.Words)
		}
		if got.Type != tid {
			t.Errorf("%s: type = %s, want %s", tid, got.Type, tid)
		}
		if got.Info != Success {
			t.Errorf("%s: info = %s, want success", tid, got.Info)
		}
	}
}

func TestWordsToBytesLittleEndian(t *testing.T) {
	got := wordsToBytes([]Word{0x200000F0})
	want := []byte{0xF0, 0x00, 0x00, 0x20}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestInfoCodeString(t *testing.T) {
	cases := map[InfoCode]string{
		Success:         "successful request",
		BadHeader:       "bad header",
		BusReadError:    "IPbus read error",
		BusWriteError:   "IPbus write error",
		BusReadTimeout:  "IPbus read timeout",
		BusWriteTimeout: "IPbus write timeout",
		RequestInfo:     "outbound request",
		InfoCode(0x2):   "unknown info code",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("%#x.String() = %q, want %q", uint8(code), got, want)
		}
	}
}

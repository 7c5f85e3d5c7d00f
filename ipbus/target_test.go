package ipbus

import (
	"testing"
)

func testConfig(t *testing.T, ip string, port uint16) Config {
	t.Helper()
	return Config{
		IPAddress:      ip,
		Port:           port,
		UpdatePeriodMS: 50,
		TimeoutMS:      200,
	}
}

func TestTargetReconnectAndExchange(t *testing.T) {
	vt, err := newVirtualTarget(func(req []byte) []byte {
		return echoReply(req, map[int][]uint32{0: {0x2A}})
	})
	if err != nil {
		t.Fatal(err)
	}
	defer vt.close()
	ip, port := vt.addr()

	target := NewTarget("bench1", testConfig(t, ip, port), nil)
	if err := target.Reconnect(); err != nil {
		t.Fatalf("Reconnect() = %v", err)
	}
	if target.State() != Online {
		t.Fatalf("State() = %s, want online", target.State())
	}
	defer target.Close()

	value, err := target.ReadRegister(0xDEADBEEF)
	if err != nil {
		t.Fatalf("ReadRegister() = %v", err)
	}
	if value != 0x2A {
		t.Fatalf("value = %#x, want 0x2a", value)
	}
}

func TestTargetWriteRegister(t *testing.T) {
	var lastWrite uint32
	vt, err := newVirtualTarget(func(req []byte) []byte {
		words := make([]Word, len(req)/4)
		bytesToWords(words, req)
		lastWrite = words[3]
		return echoReply(req, nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer vt.close()
	ip, port := vt.addr()

	target := NewTarget("bench2", testConfig(t, ip, port), nil)
	if err := target.Reconnect(); err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	if err := target.WriteRegister(0x1000, 0x11223344); err != nil {
		t.Fatalf("WriteRegister() = %v", err)
	}
	if lastWrite != 0x11223344 {
		t.Fatalf("target received %#x, want 0x11223344", lastWrite)
	}
}

func TestTargetSetAndClearBit(t *testing.T) {
	var current uint32 = 0
	vt, err := newVirtualTarget(func(req []byte) []byte {
		words := make([]Word, len(req)/4)
		bytesToWords(words, req)
		and, or := words[3], words[4]
		pre := current
		current = (current & and) | or
		return echoReply(req, map[int][]uint32{0: {pre}})
	})
	if err != nil {
		t.Fatal(err)
	}
	defer vt.close()
	ip, port := vt.addr()

	target := NewTarget("bench3", testConfig(t, ip, port), nil)
	if err := target.Reconnect(); err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	if err := target.SetBit(0x4000, 5); err != nil {
		t.Fatalf("SetBit() = %v", err)
	}
	if current != 1<<5 {
		t.Fatalf("current = %#x, want bit 5 set", current)
	}
	if err := target.ClearBit(0x4000, 5); err != nil {
		t.Fatalf("ClearBit() = %v", err)
	}
	if current != 0 {
		t.Fatalf("current = %#x, want 0", current)
	}
}

func TestTargetStatusProbeCollision(t *testing.T) {
	vt, err := newVirtualTarget(func(req []byte) []byte {
		return echoReply(req, nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer vt.close()
	ip, port := vt.addr()

	target := NewTarget("bench4", testConfig(t, ip, port), nil)
	if err := target.Reconnect(); err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	// Arm the virtual target to send an unsolicited status reply to the
	// client's own source address right before answering the next control
	// packet, exercising the stale-status discard-and-retry path in
	// Target.Exchange.
	vt.strayStatus = true

	if err := target.WriteRegister(0x1000, 1); err != nil {
		t.Fatalf("WriteRegister() = %v", err)
	}
}

func TestTargetMalformedResponseStopsKeepaliveAndEmitsError(t *testing.T) {
	vt, err := newVirtualTarget(func(req []byte) []byte {
		return []byte{0x01, 0x02, 0x03} // misaligned: not a multiple of 4 bytes
	})
	if err != nil {
		t.Fatal(err)
	}
	defer vt.close()
	ip, port := vt.addr()

	target := NewTarget("bench6", testConfig(t, ip, port), nil)
	if err := target.Reconnect(); err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	err = target.WriteRegister(0x1000, 1)
	if err == nil {
		t.Fatal("expected a network error")
	}
	fault, ok := err.(*Fault)
	if !ok || fault.Kind != NetworkErrorKind {
		t.Fatalf("error = %v, want a NetworkError fault", err)
	}
	if target.State() != Disconnected {
		t.Fatalf("State() = %s, want disconnected", target.State())
	}

	target.mu.Lock()
	stopped := target.keepaliveStop == nil
	target.mu.Unlock()
	if !stopped {
		t.Fatal("expected the keepalive loop to be stopped after a malformed response")
	}

	select {
	case got := <-target.Signals().Error:
		if got.Kind != NetworkErrorKind {
			t.Fatalf("Error signal kind = %v, want NetworkErrorKind", got.Kind)
		}
	default:
		t.Fatal("expected an Error signal")
	}
}

func TestTargetTimeout(t *testing.T) {
	vt, err := newVirtualTarget(func(req []byte) []byte {
		return nil // never answer control packets
	})
	if err != nil {
		t.Fatal(err)
	}
	defer vt.close()
	ip, port := vt.addr()

	target := NewTarget("bench5", testConfig(t, ip, port), nil)
	if err := target.Reconnect(); err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	err = target.WriteRegister(0x1000, 1)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	fault, ok := err.(*Fault)
	if !ok || fault.Kind != NetworkErrorKind {
		t.Fatalf("error = %v, want a NetworkError fault", err)
	}
	if target.State() != Disconnected {
		t.Fatalf("State() = %s, want disconnected", target.State())
	}
	select {
	case <-target.Signals().NoResponse:
	default:
		t.Fatal("expected a NoResponse signal")
	}
}

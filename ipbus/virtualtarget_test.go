package ipbus

import (
	"net"
	"time"
)

// virtualTarget is an in-process stand-in for real FPGA hardware, replacing
// the teacher's external DummyHardwareUdp.exe process (ipbus/dummy.go in
// the example pack), which isn't available in this environment. It speaks
// just enough of the wire protocol for tests: it answers status probes and
// echoes back whatever responder function the test supplies for control
// packets.
type virtualTarget struct {
	conn          *net.UDPConn
	stop          chan struct{}
	done          chan struct{}
	respond       func(request []byte) []byte
	strayStatus   bool
}

// newVirtualTarget starts a UDP listener on an ephemeral port and serves
// status probes automatically; respond handles control packets.
func newVirtualTarget(respond func(request []byte) []byte) (*virtualTarget, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, err
	}
	v := &virtualTarget{
		conn:    conn,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		respond: respond,
	}
	go v.serve()
	return v, nil
}

func (v *virtualTarget) addr() (string, uint16) {
	a := v.conn.LocalAddr().(*net.UDPAddr)
	return a.IP.String(), uint16(a.Port)
}

func (v *virtualTarget) serve() {
	defer close(v.done)
	buf := make([]byte, 1500)
	for {
		select {
		case <-v.stop:
			return
		default:
		}
		v.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, raddr, err := v.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		req := make([]byte, n)
		copy(req, buf[:n])

		if w, ok := firstWord(req); ok && n == statusPacketBytes && w == statusRequestHeader {
			v.conn.WriteToUDP(newStatusProbe(), raddr)
			continue
		}
		if v.strayStatus {
			v.strayStatus = false
			v.conn.WriteToUDP(newStatusProbe(), raddr)
		}
		if v.respond == nil {
			continue
		}
		reply := v.respond(req)
		if reply != nil {
			v.conn.WriteToUDP(reply, raddr)
		}
	}
}

func (v *virtualTarget) close() {
	close(v.stop)
	<-v.done
	v.conn.Close()
}

// echoReply builds a reply that copies the packet header and every
// request transaction header verbatim (dropping addresses and request
// payload words), appending payload words from the supplied
// per-transaction-index map after read and RMW headers (used by tests to
// script RMW pre-modification values and read data).
func echoReply(request []byte, payloads map[int][]uint32) []byte {
	words := make([]Word, len(request)/4)
	bytesToWords(words, request)

	out := []Word{words[0]}
	i := 1
	idx := 0
	for i < len(words) {
		th := DecodeTransactionHeader(words[i])
		out = append(out, words[i])
		i += 2 // skip header + address
		switch th.Type {
		case Write, NonIncrementingWrite, ConfigurationWrite:
			i += int(th.Words)
		case RmwBits:
			i += 2
			out = append(out, payloads[idx]...)
		case RmwSum:
			i += 1
			out = append(out, payloads[idx]...)
		case Read, NonIncrementingRead, ConfigurationRead:
			out = append(out, payloads[idx]...)
		}
		idx++
	}
	return wordsToBytes(out)
}

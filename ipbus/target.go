package ipbus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is where a Target sits in its connection lifecycle.
type State int

const (
	Disconnected State = iota
	Probing
	Online
	ErrorState
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Probing:
		return "probing"
	case Online:
		return "online"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// statsLogInterval is how often the keepalive loop logs a Stats snapshot,
// grounded on the teacher's hw.go reporttime (30s).
const statsLogInterval = 30 * time.Second

// Target is a single FPGA endpoint: one UDP socket, one mutex serializing
// every send/receive on it, and the connection state machine described by
// original_source/IPbusInterface.h's transceive/checkStatus/reconnect.
type Target struct {
	Name string
	cfg  Config

	mu    sync.Mutex
	conn  *net.UDPConn
	state State

	signals *Signals
	stats   Stats
	log     logrus.FieldLogger

	onSync        func()
	keepaliveStop chan struct{}
}

// NewTarget builds a disconnected Target. onSync, if non-nil, is invoked
// by the keepalive loop whenever the target is Online; a caller typically
// uses it to re-issue its own periodic reads. Call Reconnect to dial in.
func NewTarget(name string, cfg Config, onSync func()) *Target {
	return &Target{
		Name:    name,
		cfg:     cfg,
		state:   Disconnected,
		signals: newSignals(),
		log:     logrus.WithField("target", name),
		onSync:  onSync,
	}
}

// Signals returns the channel bundle this target publishes to.
func (t *Target) Signals() *Signals { return t.signals }

// Stats returns a snapshot of this target's cumulative counters.
func (t *Target) Stats() Stats { return t.stats.Snapshot() }

// State reports the target's current connection state.
func (t *Target) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Target) setStateLocked(s State) {
	if t.state == s {
		return
	}
	t.log.WithFields(logrus.Fields{"from": t.state, "to": s}).Debug("state transition")
	t.state = s
	if s == ErrorState {
		t.stopKeepaliveLocked()
	}
}

// Reconnect closes any existing socket, dials the configured target, sends
// a status probe, and starts the keepalive loop on success.
func (t *Target) Reconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	raddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", t.cfg.IPAddress, t.cfg.Port))
	if err != nil {
		t.setStateLocked(Disconnected)
		return newFault(NetworkErrorKind, "resolve %s:%d: %v", t.cfg.IPAddress, t.cfg.Port, err)
	}
	laddr := &net.UDPAddr{Port: int(t.cfg.LocalPort)}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		t.setStateLocked(Disconnected)
		return newFault(NetworkErrorKind, "dial %s: %v", raddr, err)
	}

	t.conn = conn
	t.setStateLocked(Probing)

	if err := t.sendStatusLocked(); err != nil {
		return err
	}
	t.startKeepaliveLocked()
	return nil
}

// SendStatus sends a status probe and waits for its reply, updating the
// target's state. It is exactly what the keepalive loop calls while
// offline, exposed so a caller can force one on demand.
func (t *Target) SendStatus() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendStatusLocked()
}

func (t *Target) sendStatusLocked() error {
	if t.conn == nil {
		return newFault(NetworkErrorKind, "target %s has no open socket", t.Name)
	}
	probe := newStatusProbe()
	n, err := t.conn.Write(probe)
	if err != nil || n != len(probe) {
		t.setStateLocked(Disconnected)
		return newFault(NetworkErrorKind, "send status probe to %s: %v", t.Name, err)
	}
	t.stats.addSent(n)

	t.conn.SetReadDeadline(time.Now().Add(t.cfg.timeout()))
	buf := make([]byte, 1500)
	n, err = t.conn.Read(buf)
	if err != nil {
		t.setStateLocked(Disconnected)
		t.signals.emitNoResponse("status probe")
		return newFault(NetworkErrorKind, "status probe to %s timed out: %v", t.Name, err)
	}
	t.stats.addReceived(n)

	word, ok := firstWord(buf[:n])
	if !ok || n != statusPacketBytes || word != statusRequestHeader {
		t.setStateLocked(Disconnected)
		t.signals.emitNoResponse("malformed status reply")
		return newFault(NetworkErrorKind, "malformed status reply from %s (%d bytes)", t.Name, n)
	}

	t.setStateLocked(Online)
	t.signals.emitStatusOK()
	return nil
}

// Exchange sends p's request and waits for a matching response. Unless
// skipValidate is true the response is run through Packet.Validate before
// Exchange returns. On a network-level failure the packet is left
// untouched so the caller can inspect it; on a wire-level success the
// packet is reset regardless of whether IPbus-level validation found a
// fault within it, since the transactions it held have now actually been
// sent and cannot be meaningfully retried as-is.
func (t *Target) Exchange(p *Packet, skipValidate bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Online {
		return newFault(NetworkErrorKind, "target %s is not online", t.Name)
	}
	if p.RequestSize <= 1 {
		return nil
	}

	data := wordsToBytes(p.Request[:p.RequestSize])
	n, err := t.conn.Write(data)
	if err != nil {
		t.setStateLocked(ErrorState)
		return newFault(NetworkErrorKind, "write to %s: %v", t.Name, err)
	}
	if n != len(data) {
		t.setStateLocked(ErrorState)
		return newFault(NetworkErrorKind, "short write to %s: %d/%d bytes", t.Name, n, len(data))
	}
	t.stats.addSent(n)

	resp, err := t.readDatagramLocked()
	if err != nil {
		t.setStateLocked(Disconnected)
		t.signals.emitNoResponse("exchange")
		return err
	}

	if w, ok := firstWord(resp); ok && len(resp) == statusPacketBytes && w == statusRequestHeader {
		// A stale status reply queued up behind this exchange's real
		// response; discard it and wait once more.
		resp, err = t.readDatagramLocked()
		if err != nil {
			t.setStateLocked(Disconnected)
			t.signals.emitNoResponse("exchange")
			return err
		}
	}

	if len(resp) == 0 {
		return t.networkRejectLocked(newFault(NetworkErrorKind, "empty datagram from %s", t.Name))
	}
	if len(resp)%4 != 0 {
		return t.networkRejectLocked(newFault(NetworkErrorKind, "misaligned datagram from %s (%d bytes)", t.Name, len(resp)))
	}
	words := len(resp) / 4
	if words > p.ResponseSize {
		return t.networkRejectLocked(newFault(NetworkErrorKind, "response from %s longer than expected (%d > %d words)", t.Name, words, p.ResponseSize))
	}
	if w, _ := firstWord(resp); w != p.Request[0] {
		return t.networkRejectLocked(newFault(NetworkErrorKind, "response header 0x%08x from %s does not match request 0x%08x", w, t.Name, p.Request[0]))
	}

	p.ResponseSize = words
	bytesToWords(p.Response[:words], resp)

	var verr error
	if !skipValidate {
		verr = p.Validate(t.signals)
	}
	if verr != nil {
		t.stats.addFailed(1)
	} else {
		t.stats.addSucceeded(len(p.Transactions))
	}
	p.Reset()
	return verr
}

func (t *Target) readDatagramLocked() ([]byte, error) {
	t.conn.SetReadDeadline(time.Now().Add(t.cfg.timeout()))
	buf := make([]byte, 1500)
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, newFault(NetworkErrorKind, "read from %s: %v", t.Name, err)
	}
	t.stats.addReceived(n)
	return buf[:n], nil
}

// networkRejectLocked is the shared path for a malformed or unexpected
// response in Exchange: mark Disconnected, stop the keepalive loop (it
// only self-heals a timeout by re-probing status; a malformed reply means
// something is wrong with the link itself), and publish fault on
// Signals.Error, matching original_source/IPbusInterface.h wiring its
// error signal straight to the update timer's stop.
func (t *Target) networkRejectLocked(fault *Fault) error {
	t.setStateLocked(Disconnected)
	t.stopKeepaliveLocked()
	t.signals.emitError(fault)
	return fault
}

func (t *Target) startKeepaliveLocked() {
	if t.keepaliveStop != nil {
		return
	}
	stop := make(chan struct{})
	t.keepaliveStop = stop
	go t.runKeepalive(stop)
}

func (t *Target) stopKeepaliveLocked() {
	if t.keepaliveStop != nil {
		close(t.keepaliveStop)
		t.keepaliveStop = nil
	}
}

func (t *Target) runKeepalive(stop chan struct{}) {
	tick := time.NewTicker(t.cfg.updatePeriod())
	defer tick.Stop()
	report := time.NewTicker(statsLogInterval)
	defer report.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if t.State() == Online {
				if t.onSync != nil {
					t.onSync()
				}
			} else {
				_ = t.SendStatus()
			}
		case <-report.C:
			snap := t.Stats()
			t.log.WithFields(logrus.Fields{
				"packets_sent": snap.PacketsSent, "packets_received": snap.PacketsReceived,
				"bytes_sent": snap.BytesSent, "bytes_received": snap.BytesReceived,
				"txns_ok": snap.TransactionsSucceeded, "txns_failed": snap.TransactionsFailed,
			}).Debug("throughput")
		}
	}
}

// Close stops the keepalive loop and closes the underlying socket.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopKeepaliveLocked()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.setStateLocked(Disconnected)
	return err
}

// ReadRegister reads a single word at address, returning 0xFFFFFFFF on any
// failure, matching original_source/IPbusInterface.h's readRegister sentinel.
func (t *Target) ReadRegister(address uint32) (uint32, error) {
	p := NewPacket()
	dest := make([]uint32, 1)
	if err := p.AddRead(address, dest); err != nil {
		return 0xFFFFFFFF, err
	}
	if err := t.Exchange(p, false); err != nil {
		return 0xFFFFFFFF, err
	}
	return dest[0], nil
}

// WriteRegister writes a single word to address.
func (t *Target) WriteRegister(address, value uint32) error {
	p := NewPacket()
	if err := p.AddWordWrite(address, value); err != nil {
		return err
	}
	return t.Exchange(p, false)
}

// SetBit atomically sets bit n of the register at address.
func (t *Target) SetBit(address uint32, n uint) error {
	p := NewPacket()
	if err := p.AddRmwBits(address, 0xFFFFFFFF, 1<<n, nil); err != nil {
		return err
	}
	return t.Exchange(p, false)
}

// ClearBit atomically clears bit n of the register at address.
func (t *Target) ClearBit(address uint32, n uint) error {
	p := NewPacket()
	if err := p.AddRmwBits(address, ^uint32(1<<n), 0, nil); err != nil {
		return err
	}
	return t.Exchange(p, false)
}

// WriteNbits atomically writes nbits of data into the register at address,
// starting at bit position shift.
func (t *Target) WriteNbits(address, data uint32, nbits, shift uint) error {
	p := NewPacket()
	if err := p.AddBitChange(address, data, nbits, shift); err != nil {
		return err
	}
	return t.Exchange(p, false)
}

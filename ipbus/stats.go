package ipbus

import "sync/atomic"

// Stats is a small set of per-target counters, updated by the exchange
// engine and periodically logged, grounded on the teacher's
// ipbus/hw.go reportticker (packets/bytes/sec throughput logging), here
// reduced to cumulative counters rather than a rate, since nothing else
// in this package needs a rate computation.
type Stats struct {
	PacketsSent           uint64
	PacketsReceived       uint64
	BytesSent             uint64
	BytesReceived         uint64
	TransactionsSucceeded uint64
	TransactionsFailed    uint64
}

func (s *Stats) addSent(bytes int) {
	atomic.AddUint64(&s.PacketsSent, 1)
	atomic.AddUint64(&s.BytesSent, uint64(bytes))
}

func (s *Stats) addReceived(bytes int) {
	atomic.AddUint64(&s.PacketsReceived, 1)
	atomic.AddUint64(&s.BytesReceived, uint64(bytes))
}

func (s *Stats) addSucceeded(n int) {
	atomic.AddUint64(&s.TransactionsSucceeded, uint64(n))
}

func (s *Stats) addFailed(n int) {
	atomic.AddUint64(&s.TransactionsFailed, uint64(n))
}

// Snapshot returns a copy of the current counters, safe to read while the
// target is active.
func (s *Stats) Snapshot() Stats {
	return Stats{
		PacketsSent:           atomic.LoadUint64(&s.PacketsSent),
		PacketsReceived:       atomic.LoadUint64(&s.PacketsReceived),
		BytesSent:             atomic.LoadUint64(&s.BytesSent),
		BytesReceived:         atomic.LoadUint64(&s.BytesReceived),
		TransactionsSucceeded: atomic.LoadUint64(&s.TransactionsSucceeded),
		TransactionsFailed:    atomic.LoadUint64(&s.TransactionsFailed),
	}
}

package ipbus

// Transaction records the bookkeeping the response validator needs for
// one transaction within a packet: where its header words live in the
// request and response buffers, how many words it declared, and the
// caller's destination buffer for any data the target sends back.
type Transaction struct {
	Type    TypeID
	Address uint32

	requestHeaderOffset  int
	responseHeaderOffset int
	words                uint8
	dest                 []uint32
}

// Packet is a single IPbus control packet: a fixed-capacity request word
// buffer being built up, and the response word buffer it will be matched
// against once exchanged. Word 0 of each is always the packet header.
type Packet struct {
	Request  [MaxPacketWords]Word
	Response [MaxPacketWords]Word

	RequestSize  int
	ResponseSize int

	Transactions []Transaction
}

// NewPacket returns a packet ready to accept transactions.
func NewPacket() *Packet {
	p := &Packet{}
	p.Reset()
	return p
}

// Reset clears a packet back to its just-built state (header word only,
// no transactions) so it can be reused for a new exchange.
func (p *Packet) Reset() {
	p.Transactions = p.Transactions[:0]
	p.RequestSize = 1
	p.ResponseSize = 1
	p.Request[0] = EncodePacketHeader(Control, 0)
}

// addTransaction performs the overflow-checked bookkeeping shared by every
// Add* convenience method: compute the request/response word cost for the
// type, check the packet still fits in MaxPacketWords, then commit the
// transaction header, address, and any request payload.
func (p *Packet) addTransaction(t TypeID, address uint32, payload, dest []uint32) error {
	var words uint8
	var reqWords, respWords int

	switch t {
	case Read, NonIncrementingRead, ConfigurationRead:
		if len(payload) != 0 {
			return newFault(LogicErrorKind, "%s takes no request payload, got %d words", t, len(payload))
		}
		words = uint8(len(dest))
		reqWords = 2
		respWords = 1 + len(dest)
	case Write, NonIncrementingWrite, ConfigurationWrite:
		if len(payload) == 0 {
			return newFault(LogicErrorKind, "%s requires at least one payload word", t)
		}
		words = uint8(len(payload))
		reqWords = 2 + len(payload)
		respWords = 1
	case RmwBits:
		if len(payload) != 2 {
			return newFault(LogicErrorKind, "RmwBits requires 2 request words (AND term, OR term), got %d", len(payload))
		}
		words = 1
		reqWords = 4
		respWords = 2
	case RmwSum:
		if len(payload) != 1 {
			return newFault(LogicErrorKind, "RmwSum requires 1 request word (addend), got %d", len(payload))
		}
		words = 1
		reqWords = 3
		respWords = 2
	default:
		return newFault(LogicErrorKind, "unknown transaction type 0x%x", uint8(t))
	}

	if len(dest) > 0 && len(dest) < int(words) {
		return newFault(LogicErrorKind, "destination buffer has %d words, need %d", len(dest), words)
	}
	if p.RequestSize+reqWords > MaxPacketWords || p.ResponseSize+respWords > MaxPacketWords {
		return ErrPacketOverflow
	}

	id := uint16(len(p.Transactions))
	reqOff := p.RequestSize
	respOff := p.ResponseSize

	p.Request[reqOff] = EncodeTransactionHeader(t, words, id)
	p.Request[reqOff+1] = address

	switch t {
	case Read, NonIncrementingRead, ConfigurationRead:
		p.RequestSize += reqWords
		p.ResponseSize += respWords
	case Write, NonIncrementingWrite, ConfigurationWrite:
		copy(p.Request[reqOff+2:], payload)
		p.RequestSize += reqWords
		p.ResponseSize += respWords
	case RmwBits:
		p.Request[reqOff+2] = payload[0]
		p.Request[reqOff+3] = payload[1]
		p.RequestSize += reqWords
		p.ResponseSize += respWords
	case RmwSum:
		p.Request[reqOff+2] = payload[0]
		p.RequestSize += reqWords
		p.ResponseSize += respWords
	}

	p.Transactions = append(p.Transactions, Transaction{
		Type:                 t,
		Address:              address,
		requestHeaderOffset:  reqOff,
		responseHeaderOffset: respOff,
		words:                words,
		dest:                 dest,
	})
	return nil
}

// AddRead appends an incrementing-address read for len(dest) words.
func (p *Packet) AddRead(address uint32, dest []uint32) error {
	return p.addTransaction(Read, address, nil, dest)
}

// AddNonIncrementingRead appends a fixed-address (FIFO-style) read.
func (p *Packet) AddNonIncrementingRead(address uint32, dest []uint32) error {
	return p.addTransaction(NonIncrementingRead, address, nil, dest)
}

// AddConfigurationRead appends a read targeting the target's internal
// configuration space rather than the user address space.
func (p *Packet) AddConfigurationRead(address uint32, dest []uint32) error {
	return p.addTransaction(ConfigurationRead, address, nil, dest)
}

// AddWrite appends an incrementing-address write of data.
func (p *Packet) AddWrite(address uint32, data []uint32) error {
	return p.addTransaction(Write, address, data, nil)
}

// AddNonIncrementingWrite appends a fixed-address (FIFO-style) write.
func (p *Packet) AddNonIncrementingWrite(address uint32, data []uint32) error {
	return p.addTransaction(NonIncrementingWrite, address, data, nil)
}

// AddConfigurationWrite appends a write targeting the target's internal
// configuration space.
func (p *Packet) AddConfigurationWrite(address uint32, data []uint32) error {
	return p.addTransaction(ConfigurationWrite, address, data, nil)
}

// AddWordWrite appends a single-word write, the common case.
func (p *Packet) AddWordWrite(address, value uint32) error {
	return p.AddWrite(address, []uint32{value})
}

// AddRmwBits appends an atomic read-modify-write: the target computes
// (current & andTerm) | orTerm and writes it back, replying with the
// pre-modification value. dest, if non-empty, receives that value.
func (p *Packet) AddRmwBits(address uint32, andTerm, orTerm uint32, dest []uint32) error {
	return p.addTransaction(RmwBits, address, []uint32{andTerm, orTerm}, dest)
}

// AddRmwSum appends an atomic read-add-write: the target computes
// current + addend and writes it back, replying with the pre-modification
// value. dest, if non-empty, receives that value.
func (p *Packet) AddRmwSum(address uint32, addend uint32, dest []uint32) error {
	return p.addTransaction(RmwSum, address, []uint32{addend}, dest)
}

// AddBitChange changes nbits of the register at address, starting at bit
// position shift, to the low nbits of data, leaving the rest of the
// register untouched. nbits == 32 degenerates to a plain word write, since
// an RMW would be a needless round-trip when nothing is preserved.
func (p *Packet) AddBitChange(address, data uint32, nbits, shift uint) error {
	if nbits == 32 {
		return p.AddWordWrite(address, data)
	}
	if nbits == 0 || nbits > 32 || shift+nbits > 32 {
		return newFault(LogicErrorKind, "invalid bit range: %d bits at shift %d", nbits, shift)
	}
	mask := uint32(1)<<nbits - 1
	andTerm := ^(mask << shift)
	orTerm := (data & mask) << shift
	return p.AddRmwBits(address, andTerm, orTerm, nil)
}

// Validate walks the response transaction by transaction, checking
// protocol version, transaction ID and type ID against the request,
// copying read data into caller destination buffers, and reporting the
// first fault it finds. sig, if non-nil, receives the corresponding
// signals as validation proceeds.
func (p *Packet) Validate(sig *Signals) error {
	if p.ResponseSize < 1 || p.Response[0] != p.Request[0] {
		return newFault(NetworkErrorKind, "response packet header 0x%08x does not match request 0x%08x", p.Response[0], p.Request[0])
	}

	for i, tr := range p.Transactions {
		if tr.responseHeaderOffset >= p.ResponseSize {
			err := newFault(IPbusErrorKind, "response truncated before transaction %d (%s, address 0x%08X)", i, tr.Type, tr.Address)
			if sig != nil {
				sig.emitError(err)
			}
			return err
		}

		th := DecodeTransactionHeader(p.Response[tr.responseHeaderOffset])
		if th.Version != ProtocolVersion || int(th.ID) != i || th.Type != tr.Type {
			err := newFault(IPbusErrorKind, "unexpected transaction header 0x%08x at index %d (expected type %s)", p.Response[tr.responseHeaderOffset], i, tr.Type)
			if sig != nil {
				sig.emitError(err)
			}
			return err
		}

		firstPayload := tr.responseHeaderOffset + 1

		if th.Words > 0 {
			switch th.Type {
			case Read, NonIncrementingRead, ConfigurationRead:
				ahead := p.ResponseSize - firstPayload
				if ahead < 0 {
					ahead = 0
				}
				n := int(th.Words)
				if n > ahead {
					if len(tr.dest) > 0 && ahead > 0 {
						copy(tr.dest, p.Response[firstPayload:firstPayload+ahead])
					}
					if sig != nil {
						sig.emitReadSucceeded(ahead)
					}
					if th.Info == Success {
						err := newFault(IPbusErrorKind, "read from 0x%08X truncated: %d/%d words received", tr.Address, ahead, n)
						if sig != nil {
							sig.emitError(err)
						}
						return err
					}
				} else {
					if len(tr.dest) > 0 {
						copy(tr.dest, p.Response[firstPayload:firstPayload+n])
					}
					if sig != nil {
						sig.emitReadSucceeded(n)
					}
				}
			case RmwBits, RmwSum:
				if th.Words != 1 {
					err := newFault(IPbusErrorKind, "malformed RMW response from 0x%08X: %d words", tr.Address, th.Words)
					if sig != nil {
						sig.emitError(err)
					}
					return err
				}
				if len(tr.dest) > 0 {
					copy(tr.dest, p.Response[firstPayload:firstPayload+1])
				}
				if sig != nil {
					sig.emitReadSucceeded(1)
					sig.emitWriteSucceeded(1)
				}
			case Write, NonIncrementingWrite, ConfigurationWrite:
				if sig != nil {
					sig.emitWriteSucceeded(int(th.Words))
				}
			default:
				err := newFault(IPbusErrorKind, "unknown transaction type 0x%x in response", uint8(th.Type))
				if sig != nil {
					sig.emitError(err)
				}
				return err
			}
		}

		if th.Info != Success {
			err := newFault(IPbusErrorKind, "%s, address 0x%08X", th.Info, tr.Address)
			if sig != nil {
				sig.emitError(err)
			}
			return err
		}
	}
	return nil
}

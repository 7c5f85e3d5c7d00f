package ipbus

// Signals is the set of typed channels a Target publishes connection and
// transaction events to. Each channel is buffered and drained by whatever
// task is watching it (typically a CLI's watch loop or a test); emit never
// blocks the exchange engine, so a slow or absent subscriber only misses
// signals, it never stalls the target.
type Signals struct {
	Error          chan *Fault
	NoResponse     chan string
	StatusOK       chan struct{}
	ReadSucceeded  chan int
	WriteSucceeded chan int
}

func newSignals() *Signals {
	return &Signals{
		Error:          make(chan *Fault, 1),
		NoResponse:     make(chan string, 1),
		StatusOK:       make(chan struct{}, 1),
		ReadSucceeded:  make(chan int, 8),
		WriteSucceeded: make(chan int, 8),
	}
}

func (s *Signals) emitError(f *Fault) {
	select {
	case s.Error <- f:
	default:
	}
}

func (s *Signals) emitNoResponse(msg string) {
	select {
	case s.NoResponse <- msg:
	default:
	}
}

func (s *Signals) emitStatusOK() {
	select {
	case s.StatusOK <- struct{}{}:
	default:
	}
}

func (s *Signals) emitReadSucceeded(n int) {
	select {
	case s.ReadSucceeded <- n:
	default:
	}
}

func (s *Signals) emitWriteSucceeded(n int) {
	select {
	case s.WriteSucceeded <- n:
	default:
	}
}

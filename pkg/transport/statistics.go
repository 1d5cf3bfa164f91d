package transport

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics tracks protocol-level metrics of one transport
type Statistics struct {
	txMessages      atomic.Uint64
	rxMessages      atomic.Uint64
	retransmissions atomic.Uint64
	confirmsSent    atomic.Uint64
	duplicates      atomic.Uint64
	timeoutErrors   atomic.Uint64
	malformed       atomic.Uint64
	ignored         atomic.Uint64

	// Stored as Unix nano for atomic access
	lastTxTimeNano atomic.Int64
	lastRxTimeNano atomic.Int64
}

func (s *Statistics) incTx() {
	s.txMessages.Add(1)
	s.lastTxTimeNano.Store(time.Now().UnixNano())
}

func (s *Statistics) incRx() {
	s.rxMessages.Add(1)
	s.lastRxTimeNano.Store(time.Now().UnixNano())
}

// TxMessages returns the number of frames or lines sent, retransmissions included
func (s *Statistics) TxMessages() uint64 { return s.txMessages.Load() }

// RxMessages returns the number of frames or lines received
func (s *Statistics) RxMessages() uint64 { return s.rxMessages.Load() }

// Retransmissions returns the number of resends after a missed CONFIRM
func (s *Statistics) Retransmissions() uint64 { return s.retransmissions.Load() }

// ConfirmsSent returns the number of CONFIRM frames sent
func (s *Statistics) ConfirmsSent() uint64 { return s.confirmsSent.Load() }

// Duplicates returns the number of inbound frames suppressed as already seen
func (s *Statistics) Duplicates() uint64 { return s.duplicates.Load() }

// TimeoutErrors returns the number of confirmation or reply waits that expired
func (s *Statistics) TimeoutErrors() uint64 { return s.timeoutErrors.Load() }

// Malformed returns the number of undecodable or illegal inbound frames
func (s *Statistics) Malformed() uint64 { return s.malformed.Load() }

// Ignored returns the number of unmatched lines and stray frames dropped
func (s *Statistics) Ignored() uint64 { return s.ignored.Load() }

// LastRxTime returns the last reception time
func (s *Statistics) LastRxTime() time.Time {
	nano := s.lastRxTimeNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// LastTxTime returns the last transmission time
func (s *Statistics) LastTxTime() time.Time {
	nano := s.lastTxTimeNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

func (s *Statistics) String() string {
	return fmt.Sprintf("tx=%d rx=%d retransmissions=%d confirms=%d duplicates=%d timeouts=%d malformed=%d ignored=%d last_tx=%s last_rx=%s",
		s.TxMessages(), s.RxMessages(), s.Retransmissions(), s.ConfirmsSent(),
		s.Duplicates(), s.TimeoutErrors(), s.Malformed(), s.Ignored(),
		stamp(s.LastTxTime()), stamp(s.LastRxTime()))
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("15:04:05.000")
}

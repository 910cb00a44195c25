package x402

import "sync"

// Sink receives a copy of every verified payment receipt. Purely for
// observability; never authoritative, never consulted by verification.
type Sink interface {
	Append(receipt Receipt)
}

// RingSink keeps the most recent receipts in a fixed-size ring.
type RingSink struct {
	mu       sync.Mutex
	receipts []Receipt
	next     int
	full     bool
}

// NewRingSink creates a ring sink holding up to capacity receipts.
func NewRingSink(capacity int) *RingSink {
	if capacity < 1 {
		capacity = 1
	}
	return &RingSink{receipts: make([]Receipt, capacity)}
}

func (s *RingSink) Append(receipt Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[s.next] = receipt
	s.next = (s.next + 1) % len(s.receipts)
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns the stored receipts, oldest first.
func (s *RingSink) Recent() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]Receipt, s.next)
		copy(out, s.receipts[:s.next])
		return out
	}
	out := make([]Receipt, 0, len(s.receipts))
	out = append(out, s.receipts[s.next:]...)
	out = append(out, s.receipts[:s.next]...)
	return out
}

// NopSink discards every receipt.
type NopSink struct{}

func (NopSink) Append(Receipt) {}

package service

import (
	"fmt"
	"sync"
	"time"
)

// OrderNumberGenerator issues ORD-YYYYMMDD-NNNNNN numbers whose suffix is the
// last six digits of a strictly increasing millisecond timestamp
type OrderNumberGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewOrderNumberGenerator creates a generator on the wall clock
func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{now: time.Now}
}

// Next returns the next order number
func (g *OrderNumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms

	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), ms%1_000_000)
}

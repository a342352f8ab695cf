package fixmsg

import (
	"fmt"
	"sync"
	"time"
)

// ClOrdIDGenerator issues process-unique client order ids: a timestamp base
// fixed at construction followed by a six-digit counter.
type ClOrdIDGenerator struct {
	mu   sync.Mutex
	base string
	n    int
}

// NewClOrdIDGenerator creates a generator based on the current time.
func NewClOrdIDGenerator() *ClOrdIDGenerator {
	return &ClOrdIDGenerator{base: time.Now().Format("20060102150405")}
}

// Next returns the next client order id.
func (g *ClOrdIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%06d", g.base, g.n)
}

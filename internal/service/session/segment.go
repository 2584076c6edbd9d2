package session

import (
	"fmt"
	"sync/atomic"
)

// SegmentIDs numbers the finals of a session for the event bus.
type SegmentIDs struct {
	counter uint64
}

func NewSegmentIDs() *SegmentIDs {
	return &SegmentIDs{}
}

func (g *SegmentIDs) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", sessionID, n)
}

package xid

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// ReceiptSequence hands out receipt numbers derived from the wall clock.
// Numbers are strictly increasing within a process even when the clock
// stalls or steps backwards.
type ReceiptSequence struct {
	mu   sync.Mutex
	last int64
}

func (s *ReceiptSequence) Next(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := now.UnixMilli()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return fmt.Sprintf("REC-%d", n)
}

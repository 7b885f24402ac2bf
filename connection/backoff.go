package connection

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// linearBackOff waits step, 2*step, 3*step... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

package backup

import (
	"context"
	"io"
	"math"

	"golang.org/x/time/rate"
)

// Throttle is a byte budget shared by every reader created from it, so
// concurrent streams together stay under the ceiling. The limiter holds at
// most one second of allowance.
type Throttle struct {
	limiter *rate.Limiter
	burst   int
}

// NewThrottle returns a throttle for bytesPerSecond, or nil when the ceiling
// is zero or less. A nil *Throttle does not limit.
func NewThrottle(bytesPerSecond int64) *Throttle {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond {
		burst = math.MaxInt
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		burst:   burst,
	}
}

// Reader wraps r so its reads draw from the shared budget
func (t *Throttle) Reader(ctx context.Context, r io.Reader) io.Reader {
	if t == nil {
		return r
	}
	return &RateLimitedReader{ctx: ctx, reader: r, throttle: t}
}

// RateLimitedReader caps the throughput of the wrapped reader. Every Read
// makes progress of at least one byte.
type RateLimitedReader struct {
	ctx      context.Context
	reader   io.Reader
	throttle *Throttle
}

// Read reads at most one window worth of bytes and then blocks until the
// limiter has accumulated enough tokens to cover them.
func (r *RateLimitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > r.throttle.burst {
		p = p[:r.throttle.burst]
	}

	n, err := r.reader.Read(p)
	if n > 0 {
		if waitErr := r.throttle.limiter.WaitN(r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

package connection

import (
	"math/rand/v2"
	"time"
)

// maxBackoffShift bounds the exponent so base<<n cannot overflow.
const maxBackoffShift = 16

// backoffDelay returns min(max, base*2^attempt).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}

	shift := min(attempt, maxBackoffShift)
	d := base << shift
	if d <= 0 || d > max {
		d = max
	}
	return d
}

// jitter picks a delay uniformly in [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if d-half <= 0 {
		return d
	}
	return half + rand.N(d-half)
}

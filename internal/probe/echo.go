package probe

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/tkjaer/pathq/internal/shared"
)

// echoTracker matches echoes to the time their probe was sent. Entries expire
// after the echo timeout, so a late echo is counted as missed. It is safe for
// one sending and one reading goroutine.
type echoTracker struct {
	inFlight *ttlcache.Cache[uint16, time.Time]

	mu    sync.Mutex
	count int
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

func newEchoTracker(timeout time.Duration) *echoTracker {
	if timeout <= 0 {
		timeout = ttlcache.NoTTL
	}
	return &echoTracker{
		inFlight: ttlcache.New(
			ttlcache.WithTTL[uint16, time.Time](timeout),
			ttlcache.WithDisableTouchOnHit[uint16, time.Time](),
		),
	}
}

func (e *echoTracker) sent(seq uint16, at time.Time) {
	e.inFlight.DeleteExpired()
	e.inFlight.Set(seq, at, ttlcache.DefaultTTL)
}

// received records an echo and reports whether it matched an in-flight probe.
func (e *echoTracker) received(seq uint16, at time.Time) bool {
	item := e.inFlight.Get(seq)
	if item == nil {
		return false
	}
	e.inFlight.Delete(seq)

	e.mu.Lock()
	defer e.mu.Unlock()
	rtt := at.Sub(item.Value())
	if e.count == 0 || rtt < e.min {
		e.min = rtt
	}
	if rtt > e.max {
		e.max = rtt
	}
	e.sum += rtt
	e.count++
	return true
}

func (e *echoTracker) pending() int {
	e.inFlight.DeleteExpired()
	return e.inFlight.Len()
}

func (e *echoTracker) summarize(out *shared.RunOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out.EchoesReceived = e.count
	out.EchoesMissed = out.Sent - e.count
	if e.count > 0 {
		out.MinRTT = e.min
		out.MaxRTT = e.max
		out.AvgRTT = e.sum / time.Duration(e.count)
	}
}

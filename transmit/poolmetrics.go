package transmit

import (
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var DefaultTickerDuration = 1 * time.Second

// PoolMetrics counts pool traffic. The interval counters are folded into the totals on every
// tick while collection is running.
//
// new + reuse equals the number of acquires, and new + reuse - putback the number still in use.
type PoolMetrics struct {
	na atomic.Uint32 // new acquires
	nr atomic.Uint32 // reuse from pool
	np atomic.Uint32 // put back to pool

	naa atomic.Uint64
	nra atomic.Uint64
	npa atomic.Uint64

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

type PoolStats struct {
	New          uint32 `json:"new"`
	Reuse        uint32 `json:"reuse"`
	PutBack      uint32 `json:"putback"`
	TotalNew     uint64 `json:"total_new"`
	TotalReuse   uint64 `json:"total_reuse"`
	TotalPutBack uint64 `json:"total_putback"`
}

func (p *PoolMetrics) acquired(reused bool) {
	if reused {
		p.nr.Add(1)
	} else {
		p.na.Add(1)
	}
}

func (p *PoolMetrics) released() { p.np.Add(1) }

func (p *PoolMetrics) fold() {
	p.naa.Add(uint64(p.na.Swap(0)))
	p.nra.Add(uint64(p.nr.Swap(0)))
	p.npa.Add(uint64(p.np.Swap(0)))
}

func (p *PoolMetrics) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return
	}
	p.done = make(chan struct{})

	p.wg.Add(1)
	go func(done chan struct{}) {
		defer p.wg.Done()

		ticker := time.NewTicker(DefaultTickerDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.fold()
			case <-done:
				p.fold()
				return
			}
		}
	}(p.done)
}

func (p *PoolMetrics) release() {
	p.mu.Lock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *PoolMetrics) Stats() PoolStats {
	return PoolStats{
		New:          p.na.Load(),
		Reuse:        p.nr.Load(),
		PutBack:      p.np.Load(),
		TotalNew:     p.naa.Load(),
		TotalReuse:   p.nra.Load(),
		TotalPutBack: p.npa.Load(),
	}
}

func StartPoolMetrics() {
	for _, m := range allPoolMetrics() {
		m.start()
	}
}

func ReleasePoolMetrics() {
	for _, m := range allPoolMetrics() {
		m.release()
	}
}

// PoolMetricsJSON renders the stats of every pool keyed by pool name.
func PoolMetricsJSON() string {
	stats := make(map[string]PoolStats, 4)
	for name, m := range allPoolMetrics() {
		stats[name] = m.Stats()
	}
	s, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(stats)
	if err != nil {
		return "{}"
	}
	return s
}

func allPoolMetrics() map[string]*PoolMetrics {
	return map[string]*PoolMetrics{
		"timerPool":          timerPool.m,
		"contextPool":        contextPool.m,
		"pendingRequestPool": pendingRequestPool.m,
		"pendingWritePool":   pendingWritePool.m,
	}
}

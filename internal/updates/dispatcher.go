package updates

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-messenger/internal/stats"
)

type DispatcherOptions struct {
	Workers           int
	PendingLimit      int
	WarningThreshold  int
	OverflowTimeLimit time.Duration
}

// Dispatcher runs jobs on a fixed set of workers. Jobs with the same key
// always land on the same worker and run in submission order.
type Dispatcher struct {
	log   *log.Logger
	stats stats.StatsProvider
	opts  DispatcherOptions

	shards  []chan func()
	pending atomic.Int64
	warned  atomic.Bool

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(logger *log.Logger, sp stats.StatsProvider, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PendingLimit < opts.Workers {
		opts.PendingLimit = opts.Workers
	}

	perShard := (opts.PendingLimit + opts.Workers - 1) / opts.Workers
	shards := make([]chan func(), opts.Workers)
	for i := range shards {
		shards[i] = make(chan func(), perShard)
	}

	return &Dispatcher{
		log:    logger,
		stats:  sp,
		opts:   opts,
		shards: shards,
	}
}

func (d *Dispatcher) Start() {
	for _, shard := range d.shards {
		d.wg.Add(1)
		go d.work(shard)
	}
}

func (d *Dispatcher) work(jobs <-chan func()) {
	defer d.wg.Done()
	for job := range jobs {
		d.pending.Add(-1)
		job()
	}
}

// Dispatch queues job behind earlier jobs with the same key. When the
// worker's queue is full it waits up to OverflowTimeLimit and then drops
// the job, returning false.
func (d *Dispatcher) Dispatch(key int64, job func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}

	n := d.pending.Add(1)
	d.checkPressure(n)

	shard := d.shards[uint64(key)%uint64(len(d.shards))]
	select {
	case shard <- job:
		return true
	default:
	}

	timer := time.NewTimer(d.opts.OverflowTimeLimit)
	defer timer.Stop()

	select {
	case shard <- job:
		return true
	case <-timer.C:
		d.pending.Add(-1)
		d.stats.Incr(stats.UpdatesDropped)
		d.log.Printf("updates: queue for key %d full for %s, dropping update", key, d.opts.OverflowTimeLimit)
		return false
	}
}

func (d *Dispatcher) checkPressure(pending int64) {
	threshold := int64(d.opts.WarningThreshold)
	if threshold <= 0 {
		return
	}

	if pending >= threshold {
		if d.warned.CompareAndSwap(false, true) {
			d.log.Printf("WARNING: updates: %d updates pending (warning threshold %d, limit %d)",
				pending, threshold, d.opts.PendingLimit)
		}
	} else if pending < threshold/2 {
		d.warned.Store(false)
	}
}

func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// Stop rejects new jobs and waits for queued ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

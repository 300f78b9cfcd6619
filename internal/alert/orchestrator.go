// Package alert gates violation notifications behind per-channel cooldowns
// and dispatches them on a small bounded worker pool so slow network sends
// never stall the frame loop.
package alert

import (
	"sync"
	"time"

	"github.com/safesite-data/ppewatch/internal/monitoring"
	"github.com/safesite-data/ppewatch/internal/timeutil"
)

// Notifier delivers one alert on one channel. Implementations report any
// non-success as an error; the orchestrator treats all failures uniformly
// regardless of cause.
type Notifier interface {
	Name() string
	Send(message string, image []byte) error
}

type channelState struct {
	notifier  Notifier
	cooldown  time.Duration
	lastFired time.Time
}

type job struct {
	notifier Notifier
	message  string
	image    []byte
}

// Orchestrator owns the per-channel cooldown state and the dispatch pool.
// Trigger is called only from the frame loop; the workers never touch
// cooldown state, so no locking is needed around it.
type Orchestrator struct {
	clock    timeutil.Clock
	channels map[string]*channelState

	jobs     chan job
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// DefaultWorkers is the dispatch pool size when the configuration does not
// say otherwise. Outbound sends are rare and slow; low single digits is
// plenty.
const DefaultWorkers = 2

// DefaultQueueSize bounds pending dispatch jobs. A full queue drops the
// newest job rather than blocking the frame loop.
const DefaultQueueSize = 16

// NewOrchestrator starts workers goroutines draining a bounded job queue.
// The clock is injected so cooldown behaviour is deterministic in tests.
func NewOrchestrator(workers, queueSize int, clock timeutil.Clock) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	o := &Orchestrator{
		clock:    clock,
		channels: make(map[string]*channelState),
		jobs:     make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Register adds a channel with its notifier and cooldown window. Channels
// are registered during wiring, before the frame loop starts.
func (o *Orchestrator) Register(name string, n Notifier, cooldown time.Duration) {
	o.channels[name] = &channelState{notifier: n, cooldown: cooldown}
}

// Trigger requests an alert on the named channel. Inside the cooldown
// window the call is a silent no-op. Otherwise the channel's last-fired
// time is stamped immediately and a dispatch job is queued; the caller
// returns without waiting for the send. The image is copied so workers
// never share a buffer with the frame loop. Returns whether a job was
// submitted (suppressed and dropped calls both return false).
func (o *Orchestrator) Trigger(channel, message string, image []byte) bool {
	st, ok := o.channels[channel]
	if !ok {
		monitoring.Logf("alert: trigger on unknown channel %q dropped", channel)
		return false
	}

	now := o.clock.Now()
	if !st.lastFired.IsZero() && now.Sub(st.lastFired) < st.cooldown {
		return false
	}
	// Stamp before dispatch completes so a slow send cannot let a burst of
	// frames double-fire the channel.
	st.lastFired = now

	var snapshot []byte
	if len(image) > 0 {
		snapshot = make([]byte, len(image))
		copy(snapshot, image)
	}

	select {
	case o.jobs <- job{notifier: st.notifier, message: message, image: snapshot}:
		return true
	default:
		monitoring.Logf("alert: dispatch queue full, dropping %s alert", channel)
		return false
	}
}

// Stop closes the queue and waits for in-flight sends to finish. Jobs
// still queued are delivered; nothing new can be submitted afterwards.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.jobs)
	})
	o.wg.Wait()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for j := range o.jobs {
		o.dispatch(j)
	}
}

// dispatch runs one send with failure isolated to this job: errors and
// panics are logged, never retried, and never affect other channels or the
// frame loop.
func (o *Orchestrator) dispatch(j job) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("alert: %s notifier panicked: %v", j.notifier.Name(), r)
		}
	}()
	if err := j.notifier.Send(j.message, j.image); err != nil {
		monitoring.Logf("alert: %s send failed: %v", j.notifier.Name(), err)
		return
	}
	monitoring.Logf("alert: %s notification sent", j.notifier.Name())
}

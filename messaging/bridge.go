package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rolltrack/engine"
	"rolltrack/logger"
)

// Bridge copies engine events into the outbox. The event bus calls it
// synchronously, so it only queues the event and a background goroutine
// does the write.
type Bridge struct {
	outbox  *Outbox
	topic   string
	station string
	log     *logger.Logger

	events  chan engine.Event
	dropped atomic.Int64
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewBridge(outbox *Outbox, topic, station string, buffer int, log *logger.Logger) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{
		outbox:  outbox,
		topic:   topic,
		station: station,
		log:     log.With("component", "outbox-bridge"),
		events:  make(chan engine.Event, buffer),
		stop:    make(chan struct{}),
	}
}

// Attach subscribes the bridge to bus.
func (b *Bridge) Attach(bus *engine.EventBus) engine.SubscriberID {
	return bus.Subscribe(b.enqueue)
}

func (b *Bridge) enqueue(evt engine.Event) {
	select {
	case b.events <- evt:
	default:
		n := b.dropped.Add(1)
		b.log.Warn("outbox bridge full, event dropped", "event", evt.Type.String(), "dropped", n)
	}
}

// Dropped reports how many events were lost to a full queue.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

func (b *Bridge) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop writes whatever is still queued and returns.
func (b *Bridge) Stop() {
	b.once.Do(func() { close(b.stop) })
	b.wg.Wait()
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.events:
			b.write(evt)
		case <-b.stop:
			for {
				select {
				case evt := <-b.events:
					b.write(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) write(evt engine.Event) {
	env, err := NewEnvelope(evt.Type.String(), b.station, evt.Timestamp, evt.Payload)
	if err != nil {
		b.log.Error("encode event", "event", evt.Type.String(), "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.outbox.Enqueue(ctx, b.topic, env); err != nil {
		b.log.Error("outbox enqueue failed", "event", env.Type, "err", err)
	}
}

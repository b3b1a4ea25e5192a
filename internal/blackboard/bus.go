package blackboard

import (
	"sync"
)

// Message is one payload published to a Bus topic (spec §4.9's generic
// `msg`). Generalizes the teacher's bespoke per-event-type structs
// (internal/events.Event) to a single opaque envelope, matching the
// Blackboard's own opaque-JSON-like value convention.
type Message struct {
	Topic   string
	Payload interface{}
}

// Handler processes one published Message. A panicking or erroring handler
// must never affect sibling handlers or the publisher (spec §4.9).
type Handler func(Message)

type subscription struct {
	id    uint64
	topic string
	fn    Handler
}

// Bus is the publish/subscribe coordination point for agent and workflow
// events (spec §4.9/§5: "publish is non-blocking; handlers are dispatched
// as detached tasks"). Adapts the ring-buffer subscriber bookkeeping of
// internal/events.Bus to a callback-based API instead of per-subscriber
// channels, since spec §4.9 specifies `subscribe(topic, handler)` directly.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
	next uint64

	queueMu sync.Mutex
	queue   []enqueued
	wake    chan struct{}
}

type enqueued struct {
	taskType string
	payload  interface{}
}

// NewBus constructs a Bus and starts its worker-queue processing loop.
func NewBus() *Bus {
	b := &Bus{wake: make(chan struct{}, 1)}
	go b.runWorker()
	return b
}

// Subscribe registers handler to run for every Message published to topic.
// An empty topic subscribes to every topic. Returns an unsubscribe func.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, &subscription{id: id, topic: topic, fn: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish sends msg to every subscriber of its topic. Each handler runs in
// its own detached goroutine so a slow or panicking handler cannot block
// the publisher or affect siblings.
func (b *Bus) Publish(topic string, payload interface{}) {
	msg := Message{Topic: topic, Payload: payload}
	b.mu.RLock()
	matching := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == "" || s.topic == topic {
			matching = append(matching, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, h := range matching {
		go safeInvoke(h, msg)
	}
}

func safeInvoke(h Handler, msg Message) {
	defer func() { _ = recover() }()
	h(msg)
}

// Enqueue pushes payload to a FIFO worker queue processed by a single
// background loop, which re-publishes it on topic "worker:<taskType>"
// (spec §4.9).
func (b *Bus) Enqueue(taskType string, payload interface{}) {
	b.queueMu.Lock()
	b.queue = append(b.queue, enqueued{taskType: taskType, payload: payload})
	b.queueMu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) runWorker() {
	for range b.wake {
		for {
			item, ok := b.popQueue()
			if !ok {
				break
			}
			b.Publish("worker:"+item.taskType, item.payload)
		}
	}
}

func (b *Bus) popQueue() (enqueued, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if len(b.queue) == 0 {
		return enqueued{}, false
	}
	item := b.queue[0]
	b.queue = b.queue[1:]
	return item, true
}

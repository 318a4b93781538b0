// Package bus is an in-process topic exchange. Producers publish payloads on
// dotted topics; consumers subscribe with AMQP-style patterns and receive
// messages on buffered channels. Delivery never blocks the publisher: a
// consumer whose queue is full misses the message.
package bus

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClosed       = errors.New("bus closed")
	ErrInvalidTopic = errors.New("invalid topic")
)

// DefaultQueueSize is the per-subscription buffer used by New(0).
const DefaultQueueSize = 64

// Message is a payload delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
	Time    time.Time
}

// Subscription is a consumer bound to a pattern. C is closed on Unsubscribe
// or when the bus closes.
type Subscription struct {
	ID      string
	Pattern string
	C       <-chan Message

	ch      chan Message
	dropped atomic.Uint64
}

// Dropped returns how many messages were skipped because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// EventKind distinguishes consumer events.
type EventKind int

const (
	// ConsumerAdded fires when the first consumer binds to a topic.
	ConsumerAdded EventKind = iota
	// ConsumersGone fires when the last consumer of a topic leaves.
	ConsumersGone
)

func (k EventKind) String() string {
	if k == ConsumerAdded {
		return "added"
	}
	return "gone"
}

// ConsumerEvent reports a change in the consumers of an exact topic.
type ConsumerEvent struct {
	Topic string
	Kind  EventKind
}

// Interface is what producers and consumers need from a bus.
type Interface interface {
	Publish(topic string, payload []byte) (int, error)
	Subscribe(pattern string) (*Subscription, error)
	Unsubscribe(id string)
	// AttachAdminRoutes mounts debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

type watcher struct {
	match  func(topic string) bool
	events chan ConsumerEvent
	gone   chan struct{} // closed by the stop func
}

// Bus implements Interface in memory.
type Bus struct {
	queueSize int

	// emitMu keeps consumer events in the order the changes happened.
	emitMu sync.Mutex

	mu        sync.Mutex
	subs      map[string]*Subscription
	consumers map[string]int // exact topic -> subscriptions
	watchers  []*watcher
	published map[string]uint64
	closing   bool
	done      chan struct{}
}

var _ Interface = (*Bus)(nil)

// New returns a bus whose subscriptions buffer queueSize messages.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		subs:      make(map[string]*Subscription),
		consumers: make(map[string]int),
		published: make(map[string]uint64),
		done:      make(chan struct{}),
	}
}

// Subscribe binds a new consumer to pattern.
func (b *Bus) Subscribe(pattern string) (*Subscription, error) {
	if err := validateTopic(pattern, true); err != nil {
		return nil, err
	}
	ch := make(chan Message, b.queueSize)
	sub := &Subscription{ID: uuid.NewString(), Pattern: pattern, C: ch, ch: ch}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub.ID] = sub
	var notify []*watcher
	if !IsWildcard(pattern) {
		b.consumers[pattern]++
		if b.consumers[pattern] == 1 {
			notify = b.watchersFor(pattern)
		}
	}
	b.unlockAndEmit(notify, ConsumerEvent{Topic: pattern, Kind: ConsumerAdded})
	return sub, nil
}

// Unsubscribe removes a consumer and closes its channel. Unknown ids are
// ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	var notify []*watcher
	if !IsWildcard(sub.Pattern) {
		b.consumers[sub.Pattern]--
		if b.consumers[sub.Pattern] == 0 {
			delete(b.consumers, sub.Pattern)
			notify = b.watchersFor(sub.Pattern)
		}
	}
	b.unlockAndEmit(notify, ConsumerEvent{Topic: sub.Pattern, Kind: ConsumersGone})
}

// Publish delivers payload to every matching subscription and returns how
// many received it.
func (b *Bus) Publish(topic string, payload []byte) (int, error) {
	if err := validateTopic(topic, false); err != nil {
		return 0, err
	}
	msg := Message{Topic: topic, Payload: payload, Time: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return 0, ErrClosed
	}
	b.published[topic]++
	delivered := 0
	for _, sub := range b.subs {
		if !Match(sub.Pattern, topic) {
			continue
		}
		select {
		case sub.ch <- msg:
			delivered++
		default:
			// full queue, skip so as not to block the publisher
			sub.dropped.Add(1)
		}
	}
	return delivered, nil
}

// WatchConsumers returns a channel of consumer events for exact topics
// accepted by match, and a func that stops the watch and closes the
// channel. Topics that already have consumers are reported immediately as
// ConsumerAdded; the channel is sized so that never blocks.
//
// Event delivery waits for the watcher to receive, so a watcher that stops
// reading must call stop or later Subscribe and Unsubscribe calls stall.
func (b *Bus) WatchConsumers(match func(topic string) bool) (<-chan ConsumerEvent, func()) {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		events := make(chan ConsumerEvent)
		close(events)
		return events, func() {}
	}
	var existing []string
	for topic := range b.consumers {
		if match(topic) {
			existing = append(existing, topic)
		}
	}
	w := &watcher{
		match:  match,
		events: make(chan ConsumerEvent, max(b.queueSize, len(existing))),
		gone:   make(chan struct{}),
	}
	b.watchers = append(b.watchers, w)
	b.emitMu.Lock()
	b.mu.Unlock()

	sort.Strings(existing)
	for _, topic := range existing {
		w.events <- ConsumerEvent{Topic: topic, Kind: ConsumerAdded}
	}
	b.emitMu.Unlock()

	var once sync.Once
	return w.events, func() { once.Do(func() { b.unwatch(w) }) }
}

func (b *Bus) unwatch(w *watcher) {
	b.mu.Lock()
	idx := -1
	for i, x := range b.watchers {
		if x == w {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Close already closed the channel.
		b.mu.Unlock()
		return
	}
	b.watchers = append(b.watchers[:idx:idx], b.watchers[idx+1:]...)
	close(w.gone)
	b.mu.Unlock()

	// Any emitter still holding w owns emitMu and gives up on gone.
	b.emitMu.Lock()
	close(w.events)
	b.emitMu.Unlock()
}

// Consumers returns the number of exact-topic consumers per topic.
func (b *Bus) Consumers() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.consumers))
	for k, v := range b.consumers {
		out[k] = v
	}
	return out
}

// Subscriptions returns a copy of the active subscriptions sorted by pattern.
func (b *Bus) Subscriptions() []*Subscription {
	b.mu.Lock()
	out := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close closes every subscription and watcher channel. Further calls are
// no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return nil
	}
	b.closing = true
	close(b.done)
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.consumers = make(map[string]int)

	b.emitMu.Lock()
	for _, w := range b.watchers {
		close(w.events)
	}
	b.watchers = nil
	b.emitMu.Unlock()
	return nil
}

func (b *Bus) watchersFor(topic string) []*watcher {
	var out []*watcher
	for _, w := range b.watchers {
		if w.match(topic) {
			out = append(out, w)
		}
	}
	return out
}

// unlockAndEmit releases b.mu and delivers ev to ws. Must be called with
// b.mu held.
func (b *Bus) unlockAndEmit(ws []*watcher, ev ConsumerEvent) {
	if len(ws) == 0 {
		b.mu.Unlock()
		return
	}
	b.emitMu.Lock()
	b.mu.Unlock()
	defer b.emitMu.Unlock()
	b.emit(ws, ev)
}

func (b *Bus) emit(ws []*watcher, ev ConsumerEvent) {
	select {
	case <-b.done:
		// watcher channels are closed once done is
		return
	default:
	}
	for _, w := range ws {
		select {
		case w.events <- ev:
		case <-w.gone:
		case <-b.done:
			return
		}
	}
}

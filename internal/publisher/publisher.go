// Package publisher connects the bus to the transform engine. It applies
// observation batches to the store, keeps the dependency tracker current and
// publishes recomputed answers on the query topics at a throttled rate.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/frametransform/internal/bus"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/protocol"
	"github.com/banshee-data/frametransform/internal/timeutil"
	"github.com/banshee-data/frametransform/internal/tracker"
)

// Defaults used when Config leaves a field unset.
const (
	DefaultPublishInterval = 100 * time.Millisecond
	DefaultPruneInterval   = time.Second
)

// Recorder receives every applied observation and removal.
type Recorder interface {
	Record(ctx context.Context, t frames.Transform) error
	RecordRemoval(ctx context.Context, t frames.Transform, at time.Time, reason string) error
}

// Config contains the collaborators and timings for a Publisher.
type Config struct {
	Bus     *bus.Bus
	Engine  *frames.Engine
	Tracker *tracker.Tracker
	// Recorder is optional.
	Recorder Recorder
	// Clock defaults to the engine clock.
	Clock timeutil.Clock
	// PublishInterval throttles query topic output.
	PublishInterval time.Duration
	// PruneInterval is how often expired edges are dropped; negative disables.
	PruneInterval time.Duration
	// DynamicSources are bus patterns naming producers whose empty batch
	// means "nothing observed": their previous edges are removed.
	DynamicSources []string
}

// Publisher implements the service loop.
type Publisher struct {
	bus      *bus.Bus
	engine   *frames.Engine
	tracker  *tracker.Tracker
	recorder Recorder
	clock    timeutil.Clock

	publishInterval time.Duration
	pruneInterval   time.Duration
	dynamicSources  []string

	mu      sync.Mutex
	pending map[string][]byte // query topic -> encoded result

	warn rate.Sometimes
}

// New builds a Publisher from cfg.
func New(cfg Config) *Publisher {
	clock := cfg.Clock
	if clock == nil {
		clock = cfg.Engine.Clock()
	}
	publishInterval := cfg.PublishInterval
	if publishInterval <= 0 {
		publishInterval = DefaultPublishInterval
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval == 0 {
		pruneInterval = DefaultPruneInterval
	}
	return &Publisher{
		bus:             cfg.Bus,
		engine:          cfg.Engine,
		tracker:         cfg.Tracker,
		recorder:        cfg.Recorder,
		clock:           clock,
		publishInterval: publishInterval,
		pruneInterval:   pruneInterval,
		dynamicSources:  cfg.DynamicSources,
		pending:         make(map[string][]byte),
		warn:            rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Run consumes observation batches and consumer events until ctx is done.
// Returns nil on clean shutdown.
func (p *Publisher) Run(ctx context.Context) error {
	sub, err := p.bus.Subscribe(protocol.BatchPattern)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.BatchPattern, err)
	}
	defer p.bus.Unsubscribe(sub.ID)
	events, unwatch := p.bus.WatchConsumers(protocol.IsQueryTopic)
	defer unwatch()

	flush := p.clock.NewTicker(p.publishInterval)
	defer flush.Stop()
	var pruneC <-chan time.Time
	if p.pruneInterval > 0 {
		prune := p.clock.NewTicker(p.pruneInterval)
		defer prune.Stop()
		pruneC = prune.C()
	}

	monitoring.Logf("[Publisher] started: publish_interval=%v prune_interval=%v dynamic_sources=%v",
		p.publishInterval, p.pruneInterval, p.dynamicSources)

	for {
		select {
		case <-ctx.Done():
			p.Flush()
			monitoring.Logf("[Publisher] stopping due to context cancellation")
			return nil

		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			p.handleBatch(ctx, msg)

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleConsumer(ev)

		case <-flush.C():
			p.Flush()

		case <-pruneC:
			p.Prune(ctx)
		}
	}
}

func (p *Publisher) handleBatch(ctx context.Context, msg bus.Message) {
	source, ok := protocol.BatchSource(msg.Topic)
	if !ok {
		return
	}
	var batch protocol.FrameTransformations
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		invalidTotal.WithLabelValues("decode").Inc()
		p.warn.Do(func() {
			monitoring.Logf("[Publisher] dropping batch on %s: %v", msg.Topic, err)
		})
		return
	}
	if err := p.Apply(ctx, source, batch); err != nil {
		p.warn.Do(func() {
			monitoring.Logf("[Publisher] batch on %s: %v", msg.Topic, err)
		})
	}
}

func (p *Publisher) handleConsumer(ev bus.ConsumerEvent) {
	q, err := protocol.ParseTopic(ev.Topic)
	if err != nil {
		return
	}
	switch ev.Kind {
	case bus.ConsumerAdded:
		monitoring.Logf("[Publisher] new consumer on %s", ev.Topic)
		res, err := p.tracker.Add(q)
		if err != nil {
			monitoring.Debugf("[Publisher] %s not answerable yet: %v", ev.Topic, err)
			return
		}
		// New consumers get an answer right away instead of waiting for a tick.
		p.publish(ev.Topic, res)
	case bus.ConsumersGone:
		monitoring.Logf("[Publisher] no consumers left on %s", ev.Topic)
		p.tracker.Remove(q)
		p.mu.Lock()
		delete(p.pending, ev.Topic)
		p.mu.Unlock()
	}
}

// Apply stores a batch of observations from source. An empty batch from a
// dynamic source removes every edge that source produced. Invalid entries
// are skipped; the first error is returned after the rest were applied.
func (p *Publisher) Apply(ctx context.Context, source string, batch protocol.FrameTransformations) error {
	if len(batch.Tfs) == 0 {
		if p.isDynamic(source) {
			p.RemoveSource(ctx, source)
		}
		return nil
	}

	var firstErr error
	var changed []frames.Edge
	topology := false
	for _, msg := range batch.Tfs {
		t, err := msg.Transform(source)
		if err == nil {
			var created bool
			created, err = p.store(ctx, t)
			if err == nil {
				changed = append(changed, t.Edge())
				topology = topology || created
				continue
			}
		}
		invalidTotal.WithLabelValues("transform").Inc()
		if firstErr == nil {
			firstErr = err
		}
	}
	observationsTotal.WithLabelValues(source).Add(float64(len(changed)))
	p.refresh(changed, topology)
	return firstErr
}

// ApplyTransform stores a single observation and reports whether the pair
// was new.
func (p *Publisher) ApplyTransform(ctx context.Context, t frames.Transform) (bool, error) {
	created, err := p.store(ctx, t)
	if err != nil {
		return false, err
	}
	observationsTotal.WithLabelValues(t.Source).Inc()
	p.refresh([]frames.Edge{t.Edge()}, created)
	return created, nil
}

// RemoveEdge deletes the edge between a and b.
func (p *Publisher) RemoveEdge(ctx context.Context, a, b frames.FrameID, reason string) bool {
	t, err := p.engine.Store().Snapshot().Lookup(a, b)
	if err != nil || !p.engine.Store().Remove(a, b) {
		return false
	}
	p.recordRemovals(ctx, []frames.Transform{t}, reason)
	p.refresh(nil, true)
	return true
}

// RemoveSource deletes every edge produced by source and returns them.
func (p *Publisher) RemoveSource(ctx context.Context, source string) []frames.Transform {
	removed := p.engine.Store().RemoveSource(source)
	if len(removed) == 0 {
		return nil
	}
	monitoring.Logf("[Publisher] %s reported nothing, removed %d edges", source, len(removed))
	p.recordRemovals(ctx, removed, "source_cleared")
	p.refresh(nil, true)
	return removed
}

// Prune drops expired edges.
func (p *Publisher) Prune(ctx context.Context) []frames.Transform {
	removed := p.engine.Store().Prune(p.clock.Now())
	if len(removed) == 0 {
		return nil
	}
	monitoring.Debugf("[Publisher] pruned %d expired edges", len(removed))
	p.recordRemovals(ctx, removed, "expired")
	p.refresh(nil, true)
	return removed
}

// Flush publishes every pending answer and returns how many were sent.
func (p *Publisher) Flush() int {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string][]byte, len(pending))
	p.mu.Unlock()

	topics := make([]string, 0, len(pending))
	for topic := range pending {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		if _, err := p.bus.Publish(topic, pending[topic]); err != nil {
			p.warn.Do(func() {
				monitoring.Logf("[Publisher] publish %s: %v", topic, err)
			})
			continue
		}
		publishedTotal.Inc()
	}
	return len(topics)
}

// Pending returns the number of answers waiting for the next flush.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) store(ctx context.Context, t frames.Transform) (bool, error) {
	created, err := p.engine.Update(t)
	if err != nil {
		return false, err
	}
	monitoring.Debugf("[Publisher] %s -> %s from %s", t.From, t.To, t.Source)
	if p.recorder != nil {
		if err := p.recorder.Record(ctx, t); err != nil {
			p.warn.Do(func() {
				monitoring.Logf("[Publisher] failed to record %s -> %s: %v", t.From, t.To, err)
			})
		}
	}
	return created, nil
}

func (p *Publisher) recordRemovals(ctx context.Context, removed []frames.Transform, reason string) {
	if p.recorder == nil {
		return
	}
	now := p.clock.Now()
	for _, t := range removed {
		if err := p.recorder.RecordRemoval(ctx, t, now, reason); err != nil {
			p.warn.Do(func() {
				monitoring.Logf("[Publisher] failed to record removal of %s: %v", t.Edge(), err)
			})
		}
	}
}

// refresh asks the tracker for affected queries and queues their answers.
func (p *Publisher) refresh(changed []frames.Edge, topology bool) {
	var updates []tracker.Update
	if topology {
		updates = p.tracker.TopologyChanged()
	} else {
		seen := make(map[frames.Edge]bool, len(changed))
		for _, e := range changed {
			if seen[e] {
				continue
			}
			seen[e] = true
			updates = append(updates, p.tracker.EdgeChanged(e, false)...)
		}
	}
	for _, u := range updates {
		if u.Err != nil {
			continue
		}
		p.queue(protocol.FormatTopic(u.Query), u.Result)
	}
}

func (p *Publisher) queue(topic string, res frames.Result) {
	payload, err := json.Marshal(protocol.FromResult(res))
	if err != nil {
		return
	}
	p.mu.Lock()
	p.pending[topic] = payload
	p.mu.Unlock()
}

func (p *Publisher) publish(topic string, res frames.Result) {
	payload, err := json.Marshal(protocol.FromResult(res))
	if err != nil {
		return
	}
	if _, err := p.bus.Publish(topic, payload); err == nil {
		publishedTotal.Inc()
	}
}

func (p *Publisher) isDynamic(source string) bool {
	for _, pattern := range p.dynamicSources {
		if bus.Match(pattern, source) {
			return true
		}
	}
	return false
}

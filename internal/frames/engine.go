package frames

import (
	"errors"
	"time"

	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/timeutil"
)

// Engine answers transform queries against a Store.
type Engine struct {
	store *Store
	clock timeutil.Clock
	// edges is what composition reads from; the store unless a test swaps it.
	edges EdgeSource
}

// NewEngine wires an engine over store. A nil clock uses the wall clock.
func NewEngine(store *Store, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{store: store, clock: clock, edges: store}
}

// Store returns the backing store.
func (e *Engine) Store() *Store { return e.store }

// Clock returns the engine clock.
func (e *Engine) Clock() timeutil.Clock { return e.clock }

// Update upserts a transform into the store.
func (e *Engine) Update(t Transform) (bool, error) {
	return e.store.Upsert(t)
}

// Graph returns a view of the current snapshot as of now.
func (e *Engine) Graph() *Graph {
	return NewGraph(e.store.Snapshot(), e.clock.Now())
}

// ResolvePath resolves q to a path without composing it.
func (e *Engine) ResolvePath(q Query) (Path, error) {
	return Resolve(e.Graph(), q)
}

// Compose multiplies the edges along path as of now.
func (e *Engine) Compose(path Path) (Result, error) {
	return Compose(e.edges, path, e.clock.Now())
}

// Resolve returns the composed transform for q.
//
// Resolution runs on a snapshot while composition reads the live store. If
// an edge vanishes in between, resolution is retried once; a second miss is
// reported as ErrNoPath.
func (e *Engine) Resolve(q Query) (Result, error) {
	start := time.Now()
	res, err := e.resolve(q)
	resolveDuration.Observe(time.Since(start).Seconds())
	resolveTotal.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		pathLength.Observe(float64(res.Path.Hops()))
	}
	return res, err
}

func (e *Engine) resolve(q Query) (Result, error) {
	at := e.clock.Now()
	for attempt := 0; attempt < 2; attempt++ {
		path, err := Resolve(NewGraph(e.store.Snapshot(), at), q)
		if err != nil {
			return Result{}, err
		}
		res, err := Compose(e.edges, path, at)
		if errors.Is(err, ErrEdgeMissing) {
			edgeMissingRetries.Inc()
			monitoring.Debugf("[Frames] %s: %v (attempt %d)", q.Key(), err, attempt+1)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		res.From, res.To = q.From, q.To
		return res, nil
	}
	return Result{}, &ResolveError{Kind: ErrNoPath, From: q.From, To: q.To}
}

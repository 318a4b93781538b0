// Package tracker remembers which transform queries are being consumed and
// which stored edges each one depends on, so that an edge update only
// recomputes the queries that route through it.
package tracker

import (
	"sort"
	"sync"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/monitoring"
)

// Update is the outcome of recomputing one tracked query.
type Update struct {
	Query  frames.Query
	Result frames.Result
	Err    error
}

type route struct {
	query frames.Query
	path  frames.Path
}

// Tracker keeps three indexes: direct (query -> route), reverse (edge ->
// queries routed through it) and unresolved (queries with no current answer).
// All methods are safe for concurrent use.
type Tracker struct {
	engine *frames.Engine

	mu         sync.Mutex
	direct     map[string]route
	reverse    map[frames.Edge]map[string]struct{}
	unresolved map[string]frames.Query
}

// New returns a tracker resolving through engine.
func New(engine *frames.Engine) *Tracker {
	return &Tracker{
		engine:     engine,
		direct:     make(map[string]route),
		reverse:    make(map[frames.Edge]map[string]struct{}),
		unresolved: make(map[string]frames.Query),
	}
}

// Add starts tracking q and returns its current answer. A query that cannot
// be answered yet is kept as unresolved and retried on later changes.
func (t *Tracker) Add(q frames.Query) (frames.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.recompute(q.Key(), q)
	return u.Result, u.Err
}

// Remove stops tracking q. It reports whether q was tracked.
func (t *Tracker) Remove(q frames.Query) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := q.Key()
	_, resolved := t.direct[key]
	_, pending := t.unresolved[key]
	t.unlink(key)
	delete(t.unresolved, key)
	if resolved || pending {
		monitoring.Logf("[Tracker] [-] %s", key)
	}
	return resolved || pending
}

// EdgeChanged recomputes what depends on e. When the topology changed (an
// edge appeared or disappeared) every tracked query is recomputed so that new
// shortcuts are picked up. Unresolved queries are always retried.
func (t *Tracker) EdgeChanged(e frames.Edge, topologyChanged bool) []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	if topologyChanged {
		return t.recomputeAll()
	}

	keys := make(map[string]frames.Query)
	for key := range t.reverse[e] {
		keys[key] = t.direct[key].query
	}
	for key, q := range t.unresolved {
		keys[key] = q
	}
	return t.recomputeKeys(keys)
}

// TopologyChanged recomputes every tracked query.
func (t *Tracker) TopologyChanged() []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recomputeAll()
}

// Dependants returns the tracked queries routed through e, sorted by key.
func (t *Tracker) Dependants(e frames.Edge) []frames.Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.Query, 0, len(t.reverse[e]))
	for key := range t.reverse[e] {
		out = append(out, t.direct[key].query)
	}
	sortQueries(out)
	return out
}

// Route returns the path currently used for q.
func (t *Tracker) Route(q frames.Query) (frames.Path, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.direct[q.Key()]
	return r.path, ok
}

// Tracked returns every resolved query, sorted by key.
func (t *Tracker) Tracked() []frames.Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.Query, 0, len(t.direct))
	for _, r := range t.direct {
		out = append(out, r.query)
	}
	sortQueries(out)
	return out
}

// Unresolved returns every query without a current answer, sorted by key.
func (t *Tracker) Unresolved() []frames.Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.Query, 0, len(t.unresolved))
	for _, q := range t.unresolved {
		out = append(out, q)
	}
	sortQueries(out)
	return out
}

func (t *Tracker) recomputeAll() []Update {
	keys := make(map[string]frames.Query, len(t.direct)+len(t.unresolved))
	for key, r := range t.direct {
		keys[key] = r.query
	}
	for key, q := range t.unresolved {
		keys[key] = q
	}
	return t.recomputeKeys(keys)
}

func (t *Tracker) recomputeKeys(keys map[string]frames.Query) []Update {
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	updates := make([]Update, 0, len(sorted))
	for _, key := range sorted {
		updates = append(updates, t.recompute(key, keys[key]))
	}
	return updates
}

// recompute resolves q and moves it between the resolved and unresolved
// sets. Must be called with t.mu held.
func (t *Tracker) recompute(key string, q frames.Query) Update {
	res, err := t.engine.Resolve(q)
	t.unlink(key)
	if err != nil {
		if _, already := t.unresolved[key]; !already {
			monitoring.Logf("[Tracker] Can't resolve %s: %v", key, err)
		}
		t.unresolved[key] = q
		return Update{Query: q, Err: err}
	}
	if _, was := t.unresolved[key]; was {
		monitoring.Logf("[Tracker] [Resolved] %s via %s", key, res.Path)
		delete(t.unresolved, key)
	}
	t.link(key, q, res.Path)
	return Update{Query: q, Result: res}
}

func (t *Tracker) link(key string, q frames.Query, path frames.Path) {
	t.direct[key] = route{query: q, path: path}
	for _, e := range path.Edges() {
		deps := t.reverse[e]
		if deps == nil {
			deps = make(map[string]struct{})
			t.reverse[e] = deps
		}
		deps[key] = struct{}{}
	}
}

func (t *Tracker) unlink(key string) {
	r, ok := t.direct[key]
	if !ok {
		return
	}
	for _, e := range r.path.Edges() {
		delete(t.reverse[e], key)
		if len(t.reverse[e]) == 0 {
			delete(t.reverse, e)
		}
	}
	delete(t.direct, key)
}

func sortQueries(qs []frames.Query) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].Key() < qs[j].Key() })
}

package frames

// Resolve turns a query into a path on g.
//
// from == to yields the single-frame path regardless of hints and of the
// graph. Otherwise every checkpoint must have been stored at some point, each consecutive pair of
// checkpoints is joined by its shortest path and the segments are
// concatenated without repeating the shared checkpoint. Consecutive equal
// checkpoints add nothing. The walk may revisit frames when hints force it.
//
// Errors: ErrUnknownFrame names the first checkpoint never stored; it also
// matches ErrNoPath. ErrNoPath is returned when from and to are in
// different components, including frames whose edges are all gone. ErrInvalidHints is
// returned when from and to are connected but some hint segment is not.
func Resolve(g *Graph, q Query) (Path, error) {
	if q.From == q.To {
		return Path{q.From}, nil
	}

	checkpoints := q.Checkpoints()
	for _, f := range checkpoints {
		if !g.snap.Known(f) {
			return nil, &ResolveError{Kind: ErrUnknownFrame, From: q.From, To: q.To, Frame: f}
		}
	}
	if len(q.Hints) > 0 {
		if _, ok := g.ShortestPath(q.From, q.To); !ok {
			return nil, &ResolveError{Kind: ErrNoPath, From: q.From, To: q.To}
		}
	}

	path := Path{checkpoints[0]}
	for i := 1; i < len(checkpoints); i++ {
		a, b := checkpoints[i-1], checkpoints[i]
		if a == b {
			continue
		}
		seg, ok := g.ShortestPath(a, b)
		if !ok {
			kind := ErrInvalidHints
			if len(q.Hints) == 0 {
				kind = ErrNoPath
			}
			return nil, &ResolveError{Kind: kind, From: a, To: b}
		}
		path = append(path, seg[1:]...)
	}
	return path, nil
}

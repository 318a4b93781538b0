package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/httputil"
	"github.com/banshee-data/frametransform/internal/protocol"
	"github.com/banshee-data/frametransform/internal/version"
)

// DefaultEditSource attributes edges posted without ?source=.
const DefaultEditSource = "api"

const defaultHistoryLimit = 100

// EdgeView is an edge as listed by /api/edges and /api/graph.
type EdgeView struct {
	protocol.FrameTransformation
	Source  string `json:"source,omitempty"`
	Expired bool   `json:"expired,omitempty"`
}

// GraphView is the /api/graph response.
type GraphView struct {
	Version uint64     `json:"version"`
	AtNanos int64      `json:"at_ns"`
	Frames  []string   `json:"frames"`
	Edges   []EdgeView `json:"edges"`
}

// HistoryEntry is one /api/history row.
type HistoryEntry struct {
	ID            int64                        `json:"id"`
	Kind          string                       `json:"kind"`
	Reason        string                       `json:"reason,omitempty"`
	RecordedNanos int64                        `json:"recorded_ns"`
	Source        string                       `json:"source,omitempty"`
	Transform     protocol.FrameTransformation `json:"transform"`
}

// parseQuery reads ?q=A.H.B or ?from=A&hint=H&to=B.
func parseQuery(r *http.Request) (frames.Query, error) {
	v := r.URL.Query()
	if dotted := v.Get("q"); dotted != "" {
		return protocol.ParseQuery(dotted)
	}
	return protocol.NewQuery(v.Get("from"), v["hint"], v.Get("to"))
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Resolve(q)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, protocol.FromResult(res))
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.edgeViews())
	case http.MethodPost:
		s.postEdges(w, r)
	case http.MethodDelete:
		s.deleteEdge(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) edgeViews() []EdgeView {
	g := s.engine.Graph()
	edges := g.Snapshot().Edges()
	out := make([]EdgeView, 0, len(edges))
	for _, t := range edges {
		out = append(out, EdgeView{
			FrameTransformation: protocol.FromTransform(t),
			Source:              t.Source,
			Expired:             !t.ValidAt(g.At()),
		})
	}
	return out
}

func (s *Server) postEdges(w http.ResponseWriter, r *http.Request) {
	if s.editor == nil {
		httputil.Unavailable(w, "edge editing")
		return
	}
	var body struct {
		protocol.FrameTransformation
		Tfs []protocol.FrameTransformation `json:"tfs"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	batch := protocol.FrameTransformations{Tfs: body.Tfs}
	if len(batch.Tfs) == 0 {
		if body.From == "" && body.To == "" {
			httputil.BadRequest(w, "body must be a transformation or {\"tfs\": [...]}")
			return
		}
		batch.Tfs = []protocol.FrameTransformation{body.FrameTransformation}
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = DefaultEditSource
	}
	if err := s.editor.Apply(r.Context(), source, batch); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]int{"applied": len(batch.Tfs)})
}

func (s *Server) deleteEdge(w http.ResponseWriter, r *http.Request) {
	if s.editor == nil {
		httputil.Unavailable(w, "edge editing")
		return
	}
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		httputil.BadRequest(w, "a and b are required")
		return
	}
	if !s.editor.RemoveEdge(r.Context(), frames.FrameID(a), frames.FrameID(b), "api") {
		httputil.NotFound(w, fmt.Sprintf("no edge between %q and %q", a, b))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	g := s.engine.Graph()
	view := GraphView{
		Version: g.Snapshot().Version(),
		AtNanos: g.At().UnixNano(),
		Frames:  make([]string, 0),
		Edges:   s.edgeViews(),
	}
	for _, f := range g.Frames() {
		view.Frames = append(view.Frames, string(f))
	}
	httputil.WriteJSONOK(w, view)
}

func (s *Server) handleCalibrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.calibrations == nil {
		httputil.Unavailable(w, "calibration lookup")
		return
	}
	raw := r.URL.Query()["id"]
	if len(raw) == 0 {
		httputil.WriteJSONOK(w, s.calibrations.All())
		return
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				httputil.BadRequest(w, fmt.Sprintf("invalid id %q", part))
				return
			}
			ids = append(ids, id)
		}
	}
	cals, err := s.calibrations.Get(ids...)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, cals)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.Unavailable(w, "pose history")
		return
	}
	v := r.URL.Query()
	a, b := v.Get("a"), v.Get("b")
	if a == "" || b == "" {
		httputil.BadRequest(w, "a and b are required")
		return
	}
	limit := defaultHistoryLimit
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", l))
			return
		}
		limit = n
	}
	entries, err := s.history.History(r.Context(), frames.FrameID(a), frames.FrameID(b), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			ID:            e.ID,
			Kind:          e.Kind,
			Reason:        e.Reason,
			RecordedNanos: e.Recorded.UnixNano(),
			Source:        e.Transform.Source,
			Transform:     protocol.FromTransform(e.Transform),
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

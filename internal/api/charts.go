package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/frametransform/internal/frameplot"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/httputil"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// echartsAssetsPrefix serves the echarts bundle from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleGraphChart renders the frame graph as a force-directed echarts page.
// Expired edges are drawn dashed.
func (s *Server) handleGraphChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	g := s.engine.Graph()
	snap := g.Snapshot()

	edges := snap.Edges()
	degree := make(map[frames.FrameID]int)
	for _, t := range edges {
		degree[t.From]++
		degree[t.To]++
	}
	nodes := make([]opts.GraphNode, 0, len(degree))
	for _, f := range snap.Frames() {
		nodes = append(nodes, opts.GraphNode{
			Name:       string(f),
			SymbolSize: 10 + 4*degree[f],
		})
	}
	links := make([]opts.GraphLink, 0, len(edges))
	for _, t := range edges {
		link := opts.GraphLink{
			Source: string(t.From),
			Target: string(t.To),
			Label:  &opts.EdgeLabel{Show: opts.Bool(true), Formatter: t.Source},
		}
		if !t.ValidAt(g.At()) {
			link.LineStyle = &opts.LineStyle{Type: "dashed"}
		}
		links = append(links, link)
	}

	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frame graph", Width: "100%", Height: "800px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frame graph", Subtitle: fmt.Sprintf("version=%d frames=%d edges=%d", snap.Version(), len(nodes), len(links))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	graph.AddSeries("frames", nodes, links,
		charts.WithGraphChartOpts(opts.GraphChart{
			Layout:             "force",
			Roam:               opts.Bool(true),
			FocusNodeAdjacency: opts.Bool(true),
			Force:              &opts.GraphForce{Repulsion: 400, EdgeLength: 120},
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right"}),
	)

	var buf bytes.Buffer
	if err := graph.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePlot draws the axes of ?frame= (repeatable; default: every frame)
// in the ?ref= frame as a PNG.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	v := r.URL.Query()
	ref := v.Get("ref")
	if err := protocol.ValidateFrameID(ref); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("ref: %v", err))
		return
	}
	axis := 0.0
	if a := v.Get("axis"); a != "" {
		var err error
		if axis, err = strconv.ParseFloat(a, 64); err != nil || axis <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid axis length %q", a))
			return
		}
	}

	names := v["frame"]
	if len(names) == 0 {
		for _, f := range s.engine.Graph().Frames() {
			names = append(names, string(f))
		}
	}
	poses, err := s.poses(frames.FrameID(ref), names, len(v["frame"]) > 0)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	err = frameplot.WritePNG(&buf, poses, frameplot.Options{Reference: ref, AxisLength: axis})
	if errors.Is(err, frameplot.ErrNoPoses) {
		httputil.NotFound(w, fmt.Sprintf("no frames connected to %q", ref))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// poses resolves each frame into ref. When strict is false, frames that
// cannot be reached are skipped instead of failing the request.
func (s *Server) poses(ref frames.FrameID, names []string, strict bool) ([]frameplot.Pose, error) {
	out := make([]frameplot.Pose, 0, len(names))
	for _, name := range names {
		q, err := protocol.NewQuery(name, nil, string(ref))
		if err != nil {
			return nil, err
		}
		res, err := s.engine.Resolve(q)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}
		out = append(out, frameplot.Pose{Name: name, T: res.T})
	}
	return out, nil
}

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
	"github.com/banshee-data/frametransform/internal/testutil"
)

// seed stores world -> robot -> camera plus a disconnected island.
func seed(t *testing.T, ts *testServer) {
	t.Helper()
	ctx := context.Background()
	now := ts.clock.Now()
	for _, e := range []frames.Transform{
		testutil.Stamped(testutil.Edge("world", "robot", 1, 0, 0, "odometry"), now),
		testutil.Edge("robot", "camera", 0, 2, 0, "calibration/1"),
		testutil.Edge("island", "rock", 0, 0, 5, "survey"),
	} {
		_, err := ts.pub.ApplyTransform(ctx, e)
		require.NoError(t, err)
	}
}

func TestHandleTransform(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)

	for _, target := range []string{
		"/api/transform?from=world&to=camera",
		"/api/transform?q=world.camera",
		"/api/transform?from=world&hint=robot&to=camera",
	} {
		t.Run(target, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, target, nil))
			testutil.AssertStatusCode(t, w.Code, http.StatusOK)

			got := testutil.DecodeJSON[protocol.FrameTransformation](t, w)
			require.Equal(t, "world", got.From)
			require.Equal(t, "camera", got.To)
			require.Equal(t, []string{"world", "robot", "camera"}, got.Path)
			m, err := protocol.DecodeMatrix(got.TF)
			require.NoError(t, err)
			testutil.AssertMatrixNear(t, m, frames.Translate(1, 2, 0))
			require.Equal(t, ts.clock.Now().UnixNano(), got.TimestampNanos)
		})
	}
}

func TestHandleTransform_Errors(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"unknown frame", http.MethodGet, "/api/transform?from=world&to=moon", http.StatusNotFound},
		{"not connected", http.MethodGet, "/api/transform?from=world&to=rock", http.StatusNotFound},
		{"hint off path", http.MethodGet, "/api/transform?from=world&hint=rock&to=camera", http.StatusBadRequest},
		{"missing to", http.MethodGet, "/api/transform?from=world", http.StatusBadRequest},
		{"bad dotted", http.MethodGet, "/api/transform?q=world", http.StatusBadRequest},
		{"wildcard frame", http.MethodGet, "/api/transform?from=wor*ld&to=camera", http.StatusBadRequest},
		{"post", http.MethodPost, "/api/transform?from=world&to=camera", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(tt.method, tt.target, nil))
			testutil.AssertStatusCode(t, w.Code, tt.want)
			if tt.want != http.StatusMethodNotAllowed {
				body := testutil.DecodeJSON[map[string]string](t, w)
				require.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&frames.ResolveError{Kind: frames.ErrUnknownFrame, Frame: "x"}, http.StatusNotFound},
		{&frames.ResolveError{Kind: frames.ErrNoPath}, http.StatusNotFound},
		{&frames.ResolveError{Kind: frames.ErrInvalidHints}, http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", frames.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: nan", frames.ErrInvalidTransform), http.StatusBadRequest},
		{fmt.Errorf("%w: empty", protocol.ErrInvalidQuery), http.StatusBadRequest},
		{fmt.Errorf("%w: 3 values", protocol.ErrInvalidTensor), http.StatusBadRequest},
		{fmt.Errorf("%w: id 4", calibration.ErrCalibrationNotFound), http.StatusNotFound},
		{frames.ErrEdgeMissing, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}

func TestHandleEdges(t *testing.T) {
	ts := setupTestServer(t)

	single := protocol.FromTransform(testutil.Edge("world", "robot", 1, 0, 0, ""))
	w := ts.do(testutil.NewJSONRequest(t, http.MethodPost, "/api/edges", single))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Equal(t, 1, testutil.DecodeJSON[map[string]int](t, w)["applied"])

	batch := protocol.FrameTransformations{Tfs: []protocol.FrameTransformation{
		protocol.FromTransform(testutil.Edge("robot", "camera", 0, 2, 0, "")),
		protocol.FromTransform(testutil.Edge("robot", "lidar", 0, 0, 1, "")),
	}}
	w = ts.do(testutil.NewJSONRequest(t, http.MethodPost, "/api/edges?source=rig", batch))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Equal(t, 2, testutil.DecodeJSON[map[string]int](t, w)["applied"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/edges", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	edges := testutil.DecodeJSON[[]EdgeView](t, w)
	require.Len(t, edges, 3)
	sources := map[string]string{}
	for _, e := range edges {
		sources[e.From+"-"+e.To] = e.Source
	}
	require.Equal(t, DefaultEditSource, sources["robot-world"]+sources["world-robot"])
	require.Equal(t, "rig", sources["camera-robot"]+sources["robot-camera"])

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/api/edges?a=robot&b=lidar", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)
	require.Equal(t, 2, ts.engine.Store().Len())

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/api/edges?a=robot&b=lidar", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/api/edges?a=robot", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	w = ts.do(httptest.NewRequest(http.MethodPut, "/api/edges", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestHandleEdges_InvalidBody(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/edges", strings.NewReader("{not json")))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/edges", strings.NewReader("{}")))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	self := protocol.FromTransform(testutil.Edge("a", "a", 0, 0, 0, ""))
	w = ts.do(testutil.NewJSONRequest(t, http.MethodPost, "/api/edges", self))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	require.Zero(t, ts.engine.Store().Len())
}

func TestHandleEdges_ReadOnly(t *testing.T) {
	ts := setupTestServer(t)
	ro := NewServer(Config{Engine: ts.engine}).ServeMux()

	w := httptest.NewRecorder()
	ro.ServeHTTP(w, testutil.NewJSONRequest(t, http.MethodPost, "/api/edges", protocol.FrameTransformations{}))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)

	for _, target := range []string{"/api/calibrations", "/api/history?a=x&b=y", "/ws?topic=x"} {
		w = httptest.NewRecorder()
		ro.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleGraph(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/graph", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	view := testutil.DecodeJSON[GraphView](t, w)
	require.Equal(t, ts.engine.Store().Snapshot().Version(), view.Version)
	require.Equal(t, ts.clock.Now().UnixNano(), view.AtNanos)
	require.ElementsMatch(t, []string{"camera", "island", "robot", "rock", "world"}, view.Frames)
	require.Len(t, view.Edges, 3)
}

func TestHandleGraphChart(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/graph/chart", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	require.Contains(t, body, "Frame graph")
	require.Contains(t, body, "echarts")
	require.Contains(t, body, "odometry")
}

func TestHandlePlot(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/transform/plot.png?ref=world&axis=0.25", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/transform/plot.png?ref=world&frame=camera&frame=robot", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	tests := []struct {
		target string
		want   int
	}{
		{"/api/transform/plot.png", http.StatusBadRequest},
		{"/api/transform/plot.png?ref=world&axis=-1", http.StatusBadRequest},
		{"/api/transform/plot.png?ref=world&frame=rock", http.StatusNotFound},
		{"/api/transform/plot.png?ref=nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := ts.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
		testutil.AssertStatusCode(t, w.Code, tt.want)
	}
}

func TestHandleCalibrations(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/calibrations", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	all := testutil.DecodeJSON[[]calibration.Calibration](t, w)
	require.Len(t, all, 2)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/calibrations?id=2,1", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	got := testutil.DecodeJSON[[]calibration.Calibration](t, w)
	require.Equal(t, []string{"rear", "front"}, []string{got[0].Name, got[1].Name})

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/calibrations?id=1&id=9", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	require.Contains(t, w.Body.String(), `CameraCalibration with id \"9\" not found`)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/calibrations?id=front", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestHandleHistory(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)
	ctx := context.Background()

	ts.clock.Advance(2 * time.Second)
	_, err := ts.pub.ApplyTransform(ctx, testutil.Stamped(testutil.Edge("world", "robot", 2, 0, 0, "odometry"), ts.clock.Now()))
	require.NoError(t, err)
	require.True(t, ts.pub.RemoveEdge(ctx, "robot", "world", "test"))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/history?a=robot&b=world", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	entries := testutil.DecodeJSON[[]HistoryEntry](t, w)
	require.Len(t, entries, 3)
	require.Equal(t, "removal", entries[0].Kind)
	require.Equal(t, "test", entries[0].Reason)
	require.Equal(t, "observation", entries[1].Kind)
	require.Equal(t, "odometry", entries[1].Source)
	m, err := protocol.DecodeMatrix(entries[1].Transform.TF)
	require.NoError(t, err)
	testutil.AssertMatrixNear(t, m, frames.Translate(2, 0, 0))

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/history?a=robot&b=world&limit=1", nil))
	require.Len(t, testutil.DecodeJSON[[]HistoryEntry](t, w), 1)

	for _, target := range []string{"/api/history?a=robot", "/api/history?a=robot&b=world&limit=0"} {
		w = ts.do(httptest.NewRequest(http.MethodGet, target, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	}
}

func TestHandleVersion(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/version", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := testutil.DecodeJSON[map[string]string](t, w)
	require.Contains(t, body, "version")
	require.Contains(t, body, "git_sha")
	require.Contains(t, body, "build_time")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	seed(t, ts)
	ts.do(httptest.NewRequest(http.MethodGet, "/api/transform?q=world.camera", nil))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

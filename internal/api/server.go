// Package api serves the frame transformation service over HTTP: queries,
// edge edits, graph inspection, calibrations, pose history and websocket
// subscriptions to the bus.
package api

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/frametransform/internal/bus"
	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/db"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// RequestIDHeader carries the per-request id set by LoggingMiddleware.
const RequestIDHeader = "X-Request-ID"

// maxBodySize bounds POST bodies.
const maxBodySize = 1 << 20

// Editor applies and removes edges so tracked queries are refreshed.
// Implemented by *publisher.Publisher.
type Editor interface {
	Apply(ctx context.Context, source string, batch protocol.FrameTransformations) error
	RemoveEdge(ctx context.Context, a, b frames.FrameID, reason string) bool
}

// Calibrations is the calibration lookup. Implemented by *calibration.Server.
type Calibrations interface {
	Get(ids ...int64) ([]*calibration.Calibration, error)
	All() []*calibration.Calibration
}

// History is the pose log. Implemented by *db.DB.
type History interface {
	History(ctx context.Context, a, b frames.FrameID, limit int) ([]db.PoseEntry, error)
}

// Config lists the collaborators of the HTTP server. Engine is required;
// nil optional collaborators disable their routes with 503.
type Config struct {
	Engine       *frames.Engine
	Editor       Editor
	Bus          bus.Interface
	Calibrations Calibrations
	History      History
}

type Server struct {
	engine       *frames.Engine
	editor       Editor
	bus          bus.Interface
	calibrations Calibrations
	history      History
}

func NewServer(cfg Config) *Server {
	return &Server{
		engine:       cfg.Engine,
		editor:       cfg.Editor,
		bus:          cfg.Bus,
		calibrations: cfg.Calibrations,
		history:      cfg.History,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", lrw.ResponseWriter)
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, duration and the
// request id, assigning one when the client sent none.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms id=%s",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6, id,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transform", s.handleTransform)
	mux.HandleFunc("/api/transform/plot.png", s.handlePlot)
	mux.HandleFunc("/api/edges", s.handleEdges)
	mux.HandleFunc("/api/graph", s.handleGraph)
	mux.HandleFunc("/api/graph/chart", s.handleGraphChart)
	mux.HandleFunc("/api/calibrations", s.handleCalibrations)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

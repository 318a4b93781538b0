package calibration

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/monitoring"
)

// Sink receives calibration extrinsics. It is satisfied by the publisher so
// changes reach tracked queries.
type Sink interface {
	ApplyTransform(ctx context.Context, t frames.Transform) (bool, error)
	RemoveSource(ctx context.Context, source string) []frames.Transform
}

// Server holds the loaded calibrations.
type Server struct {
	dir  string
	sink Sink

	mu  sync.RWMutex
	cal map[int64]*Calibration
}

// NewServer returns a Server reading from dir. sink may be nil when
// extrinsics should not be applied.
func NewServer(dir string, sink Sink) *Server {
	return &Server{dir: dir, sink: sink, cal: make(map[int64]*Calibration)}
}

// Dir returns the calibrations directory.
func (s *Server) Dir() string { return s.dir }

// Load (re)reads the directory and reconciles the store: extrinsics of
// removed calibrations are dropped, changed ones replaced. Files that fail
// to parse are logged and skipped.
func (s *Server) Load(ctx context.Context) error {
	loaded, errs, err := LoadDir(s.dir)
	if err != nil {
		return err
	}
	for _, err := range errs {
		monitoring.Logf("[Calibration] warning: %v", err)
	}

	s.mu.Lock()
	prev := s.cal
	s.cal = loaded
	s.mu.Unlock()

	removed, changed := 0, 0
	for id := range prev {
		if _, ok := loaded[id]; !ok {
			s.clear(ctx, id)
			removed++
		}
	}
	for _, id := range sortedIDs(loaded) {
		c := loaded[id]
		if old, ok := prev[id]; ok && reflect.DeepEqual(old.Extrinsic, c.Extrinsic) {
			continue
		}
		if _, ok := prev[id]; ok {
			s.clear(ctx, id)
		}
		s.apply(ctx, c)
		changed++
	}
	monitoring.Logf("[Calibration] loaded %d calibrations from %s (%d applied, %d removed)",
		len(loaded), s.dir, changed, removed)
	return nil
}

func (s *Server) apply(ctx context.Context, c *Calibration) {
	if s.sink == nil {
		return
	}
	// Transforms cannot fail here: LoadFile validated them.
	tfs, _ := c.Transforms()
	for _, t := range tfs {
		if _, err := s.sink.ApplyTransform(ctx, t); err != nil {
			monitoring.Logf("[Calibration] calibration %d: failed to apply %s -> %s: %v", c.ID, t.From, t.To, err)
		}
	}
}

func (s *Server) clear(ctx context.Context, id int64) {
	if s.sink == nil {
		return
	}
	s.sink.RemoveSource(ctx, Source(id))
}

// Get returns the calibrations with the given ids in request order. An
// unknown id fails the whole request.
func (s *Server) Get(ids ...int64) ([]*Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Calibration, 0, len(ids))
	for _, id := range ids {
		c, ok := s.cal[id]
		if !ok {
			return nil, fmt.Errorf("%w: CameraCalibration with id \"%d\" not found", ErrCalibrationNotFound, id)
		}
		out = append(out, c)
	}
	return out, nil
}

// All returns every calibration ordered by id.
func (s *Server) All() []*Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Calibration, 0, len(s.cal))
	for _, id := range sortedIDs(s.cal) {
		out = append(out, s.cal[id])
	}
	return out
}

// Len returns the number of loaded calibrations.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cal)
}

func sortedIDs(m map[int64]*Calibration) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

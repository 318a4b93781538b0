package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/protocol"
)

func init() {
	monitoring.SetLogger(nil)
}

// storeSink applies extrinsics straight to a store.
type storeSink struct {
	store *frames.Store
}

func (s storeSink) ApplyTransform(_ context.Context, t frames.Transform) (bool, error) {
	return s.store.Upsert(t)
}

func (s storeSink) RemoveSource(_ context.Context, source string) []frames.Transform {
	return s.store.RemoveSource(source)
}

func sampleCalibration(id int64, to string, x float64) Calibration {
	return Calibration{
		ID:         id,
		Name:       "camera",
		Resolution: Resolution{Width: 1920, Height: 1080},
		Intrinsic: protocol.Tensor{
			Shape:   protocol.Shape{Dims: []protocol.Dim{{Size: 3}, {Size: 3}}},
			Doubles: []float64{1000, 0, 960, 0, 1000, 540, 0, 0, 1},
		},
		Distortion: protocol.Tensor{
			Shape:   protocol.Shape{Dims: []protocol.Dim{{Size: 5}}},
			Doubles: []float64{0.1, -0.05, 0, 0, 0.01},
		},
		Extrinsic: []protocol.FrameTransformation{
			protocol.FromTransform(frames.Transform{From: "world", To: frames.FrameID(to), T: frames.Translate(x, 0, 0)}),
		},
	}
}

func writeJSON(t *testing.T, path string, c Calibration) {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

const yamlCalibration = `id: 7
name: rear
resolution: {width: 640, height: 480}
intrinsic:
  shape: {dims: [{size: 3}, {size: 3}]}
  doubles: [500, 0, 320, 0, 500, 240, 0, 0, 1]
distortion:
  shape: {dims: [{size: 4}]}
  doubles: [0, 0, 0, 0]
extrinsic:
  - from: world
    to: camera-7
    tf:
      shape: {dims: [{size: 4, name: rows}, {size: 4, name: cols}]}
      doubles: [1, 0, 0, 0.5, 0, 1, 0, 0, 0, 0, 1, 2, 0, 0, 0, 1]
`

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rear.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCalibration), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	if c.ID != 7 || c.Name != "rear" {
		t.Errorf("got id=%d name=%q, want 7 rear", c.ID, c.Name)
	}
	if c.Resolution != (Resolution{Width: 640, Height: 480}) {
		t.Errorf("resolution = %+v", c.Resolution)
	}
	tfs, err := c.Transforms()
	require.NoError(t, err)
	require.Len(t, tfs, 1)
	if tfs[0].Source != "calibration/7" {
		t.Errorf("source = %q, want calibration/7", tfs[0].Source)
	}
	if got := frames.Translation(tfs[0].T); got != [3]float64{0.5, 0, 2} {
		t.Errorf("translation = %v", got)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := sampleCalibration(1, "camera-1", 1)
	bad.Extrinsic[0].TF.Doubles[15] = 2 // not rigid
	badPath := filepath.Join(dir, "bad.json")
	writeJSON(t, badPath, bad)
	if _, err := LoadFile(badPath); !errors.Is(err, frames.ErrIllFormedTransform) {
		t.Errorf("expected ErrIllFormedTransform, got %v", err)
	}

	short := sampleCalibration(2, "camera-2", 1)
	short.Intrinsic.Doubles = short.Intrinsic.Doubles[:4]
	shortPath := filepath.Join(dir, "short.json")
	writeJSON(t, shortPath, short)
	if _, err := LoadFile(shortPath); !errors.Is(err, protocol.ErrInvalidTensor) {
		t.Errorf("expected ErrInvalidTensor, got %v", err)
	}

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("id: 1"), 0o644))
	if _, err := LoadFile(txt); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestLoadDir_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "a.json"), sampleCalibration(1, "camera-1", 1))
	writeJSON(t, filepath.Join(dir, "b.json"), sampleCalibration(1, "camera-1b", 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	cals, errs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, cals, 1)
	require.Len(t, errs, 2)
	if got := cals[1].Extrinsic[0].To; got != "camera-1" {
		t.Errorf("duplicate id kept %q, want the first file's camera-1", got)
	}

	if _, _, err := LoadDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestServer_Get(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "1.json"), sampleCalibration(1, "camera-1", 1))
	writeJSON(t, filepath.Join(dir, "2.json"), sampleCalibration(2, "camera-2", 2))

	s := NewServer(dir, nil)
	require.NoError(t, s.Load(context.Background()))

	got, err := s.Get(2, 1)
	require.NoError(t, err)
	if got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("Get order = %d,%d; want 2,1", got[0].ID, got[1].ID)
	}

	_, err = s.Get(1, 42, 43)
	if !errors.Is(err, ErrCalibrationNotFound) {
		t.Fatalf("expected ErrCalibrationNotFound, got %v", err)
	}
	if want := `calibration not found: CameraCalibration with id "42" not found`; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}

	if all := s.All(); len(all) != 2 || all[0].ID != 1 {
		t.Errorf("All() = %d entries", len(all))
	}
}

func TestServer_LoadReconciles(t *testing.T) {
	dir := t.TempDir()
	store := frames.NewStore()
	s := NewServer(dir, storeSink{store: store})
	ctx := context.Background()

	writeJSON(t, filepath.Join(dir, "1.json"), sampleCalibration(1, "camera-1", 1))
	writeJSON(t, filepath.Join(dir, "2.json"), sampleCalibration(2, "camera-2", 2))
	require.NoError(t, s.Load(ctx))
	require.Equal(t, 2, store.Len())
	version := store.Snapshot().Version()

	// Reload with nothing changed does not touch the store.
	require.NoError(t, s.Load(ctx))
	if got := store.Snapshot().Version(); got != version {
		t.Errorf("version changed on identical reload: %d -> %d", version, got)
	}

	// Move camera-1 and drop calibration 2.
	writeJSON(t, filepath.Join(dir, "1.json"), sampleCalibration(1, "camera-1", 5))
	require.NoError(t, os.Remove(filepath.Join(dir, "2.json")))
	require.NoError(t, s.Load(ctx))

	require.Equal(t, 1, store.Len())
	tf, err := store.Lookup("world", "camera-1")
	require.NoError(t, err)
	if got := frames.Translation(tf.T); got[0] != 5 {
		t.Errorf("camera-1 x = %v, want 5", got[0])
	}
	if _, err := store.Lookup("world", "camera-2"); err == nil {
		t.Error("camera-2 extrinsic should be removed")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestServer_Watch(t *testing.T) {
	dir := t.TempDir()
	store := frames.NewStore()
	s := NewServer(dir, storeSink{store: store})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Load(ctx))

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 20*time.Millisecond) }()

	// The watcher registers asynchronously; keep rewriting until it sees one.
	require.Eventually(t, func() bool {
		writeJSON(t, filepath.Join(dir, "3.json"), sampleCalibration(3, "camera-3", 3))
		return s.Len() == 1 && store.Len() == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	s := NewServer(filepath.Join(t.TempDir(), "missing"), nil)
	if err := s.Watch(context.Background(), 0); err == nil {
		t.Error("expected error watching a missing directory")
	}
}

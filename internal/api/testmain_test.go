package api

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/frametransform/internal/bus"
	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/db"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/publisher"
	"github.com/banshee-data/frametransform/internal/timeutil"
	"github.com/banshee-data/frametransform/internal/tracker"
)

var (
	apiTestTemplatePath string
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	code := runAPITestMain(m)
	os.Exit(code)
}

// runAPITestMain migrates one template database so each test only copies a
// file instead of replaying migrations.
func runAPITestMain(m *testing.M) int {
	tmpDir, err := os.MkdirTemp("", "frametransform-api-template-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create API test template directory: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	apiTestTemplatePath = filepath.Join(tmpDir, "template.db")

	templateDB, err := db.Open(apiTestTemplatePath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize API test template DB: %v\n", err)
		return 1
	}
	if _, err := templateDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to checkpoint API test template DB: %v\n", err)
		_ = templateDB.Close()
		return 1
	}
	if err := templateDB.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close API test template DB: %v\n", err)
		return 1
	}

	return m.Run()
}

func cloneAPITestDB(t *testing.T) string {
	t.Helper()

	if apiTestTemplatePath == "" {
		t.Fatal("API test template DB not initialized")
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	if err := copyFile(apiTestTemplatePath, dbPath); err != nil {
		t.Fatalf("failed to clone API test DB template: %v", err)
	}
	return dbPath
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type fakeCalibrations map[int64]*calibration.Calibration

func (f fakeCalibrations) Get(ids ...int64) ([]*calibration.Calibration, error) {
	out := make([]*calibration.Calibration, 0, len(ids))
	for _, id := range ids {
		c, ok := f[id]
		if !ok {
			return nil, fmt.Errorf("%w: CameraCalibration with id \"%d\" not found", calibration.ErrCalibrationNotFound, id)
		}
		out = append(out, c)
	}
	return out, nil
}

func (f fakeCalibrations) All() []*calibration.Calibration {
	out := make([]*calibration.Calibration, 0, len(f))
	for id := int64(0); len(out) < len(f); id++ {
		if c, ok := f[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

type testServer struct {
	clock  *timeutil.MockClock
	engine *frames.Engine
	bus    *bus.Bus
	pub    *publisher.Publisher
	db     *db.DB
	srv    *Server
	mux    *http.ServeMux
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	dbInst, err := db.Open(cloneAPITestDB(t), clock)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() { _ = dbInst.Close() })

	engine := frames.NewEngine(frames.NewStore(), clock)
	b := bus.New(16)
	t.Cleanup(func() { _ = b.Close() })
	pub := publisher.New(publisher.Config{
		Bus:      b,
		Engine:   engine,
		Tracker:  tracker.New(engine),
		Recorder: dbInst,
	})

	srv := NewServer(Config{
		Engine:       engine,
		Editor:       pub,
		Bus:          b,
		Calibrations: fakeCalibrations{1: {ID: 1, Name: "front"}, 2: {ID: 2, Name: "rear"}},
		History:      dbInst,
	})
	return &testServer{
		clock:  clock,
		engine: engine,
		bus:    b,
		pub:    pub,
		db:     dbInst,
		srv:    srv,
		mux:    srv.ServeMux(),
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

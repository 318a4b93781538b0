package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/config"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/posefeed"
	"github.com/banshee-data/frametransform/internal/protocol"
	"github.com/banshee-data/frametransform/internal/rpc"
)

func init() {
	monitoring.SetLogger(nil)
}

func ptr[T any](v T) *T { return &v }

func writeCalibration(t *testing.T, dir string) {
	t.Helper()
	c := calibration.Calibration{
		ID:   1,
		Name: "front",
		Intrinsic: protocol.Tensor{
			Shape:   protocol.Shape{Dims: []protocol.Dim{{Size: 3}, {Size: 3}}},
			Doubles: []float64{800, 0, 320, 0, 800, 240, 0, 0, 1},
		},
		Extrinsic: []protocol.FrameTransformation{
			protocol.FromTransform(frames.Transform{From: "world", To: "camera", T: frames.Translate(0, 0, 1)}),
		},
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "front.json"), data, 0o644))
}

func testConfig(t *testing.T) *config.ServiceConfig {
	t.Helper()
	dir := t.TempDir()
	calDir := filepath.Join(dir, "calibrations")
	require.NoError(t, os.Mkdir(calDir, 0o755))
	writeCalibration(t, calDir)
	return &config.ServiceConfig{
		Listen:           ptr("127.0.0.1:0"),
		GRPCListen:       ptr("127.0.0.1:0"),
		CalibrationsPath: ptr(calDir),
		DatabasePath:     ptr(filepath.Join(dir, "poses.db")),
		PublishInterval:  ptr("10ms"),
		SerialFeeds:      []config.SerialFeedConfig{{Path: "/dev/ttyFAKE0", Source: "tags"}},
	}
}

func pipeOpener(r *io.PipeReader) posefeed.Opener {
	return func(string, *serial.Mode) (posefeed.Port, error) { return r, nil }
}

func TestService_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	svc, err := newService(cfg, pipeOpener(pr))
	require.NoError(t, err)
	defer svc.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.run(ctx) }()

	line, err := json.Marshal(protocol.FromTransform(frames.Transform{From: "world", To: "tag", T: frames.Translate(2, 0, 0)}))
	require.NoError(t, err)
	// The feed may start before the publisher subscribes, so keep sending.
	go func() {
		for {
			if _, err := pw.Write(append(line, '\n')); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	base := fmt.Sprintf("http://%s", svc.httpLn.Addr())
	var got protocol.FrameTransformation
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/transform?q=camera.tag")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&got) == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, []string{"camera", "world", "tag"}, got.Path)
	m, err := protocol.DecodeMatrix(got.TF)
	require.NoError(t, err)
	want := frames.Translate(2, 0, -1)
	require.InDeltaSlice(t, want[:], m[:], 1e-9)

	client, err := rpc.Dial(svc.grpcLn.Addr().String())
	require.NoError(t, err)
	res, err := client.Resolve(ctx, frames.Query{From: "world", To: "camera"})
	require.NoError(t, err)
	m, err = protocol.DecodeMatrix(res.TF)
	require.NoError(t, err)
	want = frames.Translate(0, 0, 1)
	require.InDeltaSlice(t, want[:], m[:], 1e-9)
	cals, err := client.GetCalibration(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "front", cals[0].Name)
	require.NoError(t, client.Close())

	entries, err := svc.db.History(ctx, "world", "tag", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, "tags", entries[0].Transform.Source)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestService_RestoresHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.SerialFeeds = nil
	cfg.CalibrationsPath = nil

	first, err := newService(cfg, nil)
	require.NoError(t, err)
	_, err = first.pub.ApplyTransform(context.Background(), frames.Transform{
		From: "map", To: "odom", T: frames.Translate(0, 3, 0), Source: "slam",
	})
	require.NoError(t, err)
	first.close()

	second, err := newService(cfg, nil)
	require.NoError(t, err)
	defer second.close()
	require.NoError(t, second.restore(context.Background()))

	got, err := second.engine.Store().Lookup("map", "odom")
	require.NoError(t, err)
	require.Equal(t, "slam", got.Source)
	require.Equal(t, frames.Translate(0, 3, 0), got.T)
}

func TestNewService_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listen = ptr("256.0.0.1:99999")
	pr, _ := io.Pipe()
	_, err := newService(cfg, pipeOpener(pr))
	require.Error(t, err)

	cfg = testConfig(t)
	_, err = newService(cfg, func(string, *serial.Mode) (posefeed.Port, error) {
		return nil, fmt.Errorf("no device")
	})
	require.ErrorContains(t, err, "no device")
}

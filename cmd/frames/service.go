package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/banshee-data/frametransform/internal/api"
	"github.com/banshee-data/frametransform/internal/bus"
	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/config"
	"github.com/banshee-data/frametransform/internal/db"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/posefeed"
	"github.com/banshee-data/frametransform/internal/publisher"
	"github.com/banshee-data/frametransform/internal/rpc"
	"github.com/banshee-data/frametransform/internal/timeutil"
	"github.com/banshee-data/frametransform/internal/tracker"
)

// historyPruneEvery bounds how often old pose history rows are deleted.
const historyPruneEvery = 10 * time.Minute

// service owns every long-running component of the daemon.
type service struct {
	cfg   *config.ServiceConfig
	clock timeutil.Clock

	engine       *frames.Engine
	bus          *bus.Bus
	pub          *publisher.Publisher
	db           *db.DB
	calibrations *calibration.Server
	feeds        []*posefeed.Feed

	httpLn net.Listener
	grpcLn net.Listener
}

// newService builds the components described by cfg and binds the
// listeners, so address errors surface before anything runs.
func newService(cfg *config.ServiceConfig, opener posefeed.Opener) (_ *service, err error) {
	s := &service{cfg: cfg, clock: timeutil.RealClock{}}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.engine = frames.NewEngine(frames.NewStore(), s.clock)
	s.bus = bus.New(bus.DefaultQueueSize)

	var recorder publisher.Recorder
	if path := cfg.GetDatabasePath(); path != "" {
		if s.db, err = db.Open(path, s.clock); err != nil {
			return nil, fmt.Errorf("failed to open pose history: %w", err)
		}
		recorder = s.db
	}
	s.pub = publisher.New(publisher.Config{
		Bus:             s.bus,
		Engine:          s.engine,
		Tracker:         tracker.New(s.engine),
		Recorder:        recorder,
		PublishInterval: cfg.GetPublishInterval(),
		PruneInterval:   cfg.GetPruneInterval(),
		DynamicSources:  cfg.DynamicSources,
	})

	if dir := cfg.GetCalibrationsPath(); dir != "" {
		s.calibrations = calibration.NewServer(dir, s.pub)
	}

	for _, fc := range cfg.SerialFeeds {
		f, err := posefeed.Open(posefeed.Config{
			Path:    fc.Path,
			Source:  fc.Source,
			Options: fc.Port,
			MaxRate: fc.MaxRate,
		}, opener, s.bus)
		if err != nil {
			return nil, err
		}
		s.feeds = append(s.feeds, f)
	}

	if s.httpLn, err = net.Listen("tcp", cfg.GetListen()); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GetListen(), err)
	}
	if addr := cfg.GetGRPCListen(); addr != "" {
		if s.grpcLn, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}
	return s, nil
}

// restore replays the newest recorded pose of every pair into the store.
func (s *service) restore(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	latest, err := s.db.Latest(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to read pose history: %w", err)
	}
	restored := 0
	for _, t := range latest {
		if _, err := s.engine.Update(t); err != nil {
			log.Printf("[Frames] skipping recorded edge %s: %v", t.Edge(), err)
			continue
		}
		restored++
	}
	log.Printf("[Frames] restored %d edges from %s", restored, s.db.Path())
	return nil
}

func (s *service) handler() http.Handler {
	cfg := api.Config{Engine: s.engine, Editor: s.pub, Bus: s.bus}
	if s.calibrations != nil {
		cfg.Calibrations = s.calibrations
	}
	if s.db != nil {
		cfg.History = s.db
	}
	mux := api.NewServer(cfg).ServeMux()
	s.bus.AttachAdminRoutes(mux)
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return api.LoggingMiddleware(mux)
}

func (s *service) grpcServer() *grpc.Server {
	var cals rpc.Calibrations
	if s.calibrations != nil {
		cals = s.calibrations
	}
	srv := grpc.NewServer()
	rpc.RegisterFrameTransformationServer(srv, rpc.NewServer(s.engine, s.pub, cals))
	return srv
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (s *service) run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return err
	}
	if s.calibrations != nil {
		if err := s.calibrations.Load(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.pub.Run(ctx) })

	if s.calibrations != nil && s.cfg.GetWatchCalibrations() {
		g.Go(func() error { return ignoreCanceled(s.calibrations.Watch(ctx, calibration.DefaultDebounce)) })
	}

	for _, f := range s.feeds {
		g.Go(func() error {
			err := ignoreCanceled(f.Run(ctx))
			st := f.Stats()
			log.Printf("[Frames] feed %s stopped: lines=%d published=%d dropped=%d invalid=%d",
				f.Source(), st.Lines, st.Published, st.Dropped, st.Invalid)
			return err
		})
	}

	if s.db != nil {
		g.Go(func() error { return s.pruneHistory(ctx) })
	}

	server := &http.Server{Handler: s.handler(), ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.Printf("[Frames] HTTP listening on %s", s.httpLn.Addr())
		if err := server.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			_ = server.Close()
		}
		return nil
	})

	if s.grpcLn != nil {
		gs := s.grpcServer()
		g.Go(func() error {
			log.Printf("[Frames] gRPC listening on %s", s.grpcLn.Addr())
			if err := gs.Serve(s.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// pruneHistory deletes pose history older than the retention window. A
// non-positive retention keeps everything.
func (s *service) pruneHistory(ctx context.Context) error {
	retention := s.cfg.GetHistoryRetention()
	if retention <= 0 {
		return nil
	}
	every := historyPruneEvery
	if retention < every {
		every = retention
	}
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			n, err := s.db.PruneBefore(ctx, now.Add(-retention))
			if err != nil {
				log.Printf("[Frames] %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Frames] pruned %d pose history rows older than %v", n, retention)
			}
		}
	}
}

func (s *service) close() {
	for _, f := range s.feeds {
		if err := f.Close(); err != nil {
			log.Printf("[Frames] closing feed %s: %v", f.Source(), err)
		}
	}
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Printf("[Frames] closing database: %v", err)
		}
	}
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
	if s.grpcLn != nil {
		_ = s.grpcLn.Close()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

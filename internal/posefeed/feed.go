// Package posefeed reads JSON-lines pose observations from serial devices
// (tracking cameras, fiducial detectors) and publishes them onto the bus as
// observation batches.
package posefeed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/banshee-data/frametransform/internal/bus"
	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// Port is the minimal interface needed from a serial port. It lets tests
// run without hardware.
type Port interface {
	io.Reader
	io.Closer
}

// Opener opens a port at path.
type Opener func(path string, mode *serial.Mode) (Port, error)

// SerialOpener opens a real serial port.
func SerialOpener(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// ErrSkip marks lines that carry no observation (blank or comment).
var ErrSkip = errors.New("no observation on line")

// Config describes one feed.
type Config struct {
	Path    string
	Source  string
	Options PortOptions
	// MaxRate caps published batches per second; zero is unlimited.
	MaxRate float64
}

// Stats counts what a feed has seen.
type Stats struct {
	Lines     uint64 `json:"lines"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Invalid   uint64 `json:"invalid"`
}

// Feed publishes the observations read from one port.
type Feed struct {
	cfg     Config
	port    Port
	bus     bus.Interface
	limiter *rate.Limiter
	warn    rate.Sometimes

	lines, published, dropped, invalid atomic.Uint64
}

// Open opens cfg.Path with opener and returns a feed over it.
func Open(cfg Config, opener Opener, b bus.Interface) (*Feed, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("pose feed %s: source is required", cfg.Path)
	}
	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("pose feed %s: %w", cfg.Path, err)
	}
	if opener == nil {
		opener = SerialOpener
	}
	port, err := opener(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open pose feed %s: %w", cfg.Path, err)
	}
	return New(port, cfg, b), nil
}

// New wraps an already open port.
func New(port Port, cfg Config, b bus.Interface) *Feed {
	limit := rate.Inf
	burst := 1
	if cfg.MaxRate > 0 {
		limit = rate.Limit(cfg.MaxRate)
		burst = int(cfg.MaxRate)
		if burst < 1 {
			burst = 1
		}
	}
	return &Feed{
		cfg:     cfg,
		port:    port,
		bus:     b,
		limiter: rate.NewLimiter(limit, burst),
		warn:    rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Source returns the producer name the feed publishes as.
func (f *Feed) Source() string { return f.cfg.Source }

// Stats returns a snapshot of the counters.
func (f *Feed) Stats() Stats {
	return Stats{
		Lines:     f.lines.Load(),
		Published: f.published.Load(),
		Dropped:   f.dropped.Load(),
		Invalid:   f.invalid.Load(),
	}
}

// Run reads lines until the port is exhausted or ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	scan := bufio.NewScanner(f.port)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan will not interfere with the outer loop awaiting
	// lines and context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			line := append([]byte(nil), scan.Bytes()...)
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	topic := protocol.BatchTopic(f.cfg.Source)
	monitoring.Logf("[PoseFeed] %s publishing on %s", f.cfg.Path, topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("pose feed %s: %w", f.cfg.Path, err)

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			f.handle(topic, line)
		}
	}
}

func (f *Feed) handle(topic string, line []byte) {
	f.lines.Add(1)
	batch, err := ParseLine(line)
	if errors.Is(err, ErrSkip) {
		return
	}
	if err != nil {
		f.invalid.Add(1)
		f.warn.Do(func() {
			monitoring.Logf("[PoseFeed] %s: invalid line: %v", f.cfg.Path, err)
		})
		return
	}
	if !f.limiter.Allow() {
		f.dropped.Add(1)
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		f.invalid.Add(1)
		return
	}
	if _, err := f.bus.Publish(topic, payload); err != nil {
		f.warn.Do(func() {
			monitoring.Logf("[PoseFeed] %s: publish failed: %v", f.cfg.Path, err)
		})
		return
	}
	f.published.Add(1)
}

// Close closes the port, unblocking Run.
func (f *Feed) Close() error {
	return f.port.Close()
}

// ParseLine decodes one line: either a batch {"tfs": [...]} or a single
// observation {"from": ..., "to": ..., "tf": ...}. Blank lines and lines
// starting with '#' return ErrSkip.
func ParseLine(line []byte) (protocol.FrameTransformations, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return protocol.FrameTransformations{}, ErrSkip
	}
	var probe struct {
		Tfs *[]protocol.FrameTransformation `json:"tfs"`
		protocol.FrameTransformation
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return protocol.FrameTransformations{}, err
	}
	switch {
	case probe.Tfs != nil:
		return protocol.FrameTransformations{Tfs: *probe.Tfs}, nil
	case probe.From != "":
		return protocol.FrameTransformations{Tfs: []protocol.FrameTransformation{probe.FrameTransformation}}, nil
	default:
		return protocol.FrameTransformations{}, errors.New("line is neither a batch nor an observation")
	}
}

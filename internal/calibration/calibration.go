// Package calibration serves camera calibrations loaded from a directory and
// seeds the transform store with their extrinsics.
//
// Each file holds one calibration as JSON or YAML:
//
//	id: 3
//	name: front-left
//	resolution: {width: 1920, height: 1080}
//	intrinsic: {shape: {dims: [{size: 3}, {size: 3}]}, doubles: [...]}
//	distortion: {shape: {dims: [{size: 5}]}, doubles: [...]}
//	extrinsic:
//	  - from: world
//	    to: camera-3
//	    tf: {shape: {dims: [{size: 4}, {size: 4}]}, doubles: [...]}
package calibration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/banshee-data/frametransform/internal/config"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// ErrCalibrationNotFound is returned by Get for an unknown id.
var ErrCalibrationNotFound = errors.New("calibration not found")

// SourcePrefix prefixes the store source of calibration extrinsics.
const SourcePrefix = "calibration/"

// Resolution is the image size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Calibration is one camera calibration.
type Calibration struct {
	ID         int64                          `json:"id" yaml:"id"`
	Name       string                         `json:"name,omitempty" yaml:"name,omitempty"`
	Resolution Resolution                     `json:"resolution" yaml:"resolution"`
	Intrinsic  protocol.Tensor                `json:"intrinsic" yaml:"intrinsic"`
	Distortion protocol.Tensor                `json:"distortion" yaml:"distortion"`
	Error      float64                        `json:"error,omitempty" yaml:"error,omitempty"` // reprojection error, pixels
	Extrinsic  []protocol.FrameTransformation `json:"extrinsic,omitempty" yaml:"extrinsic,omitempty"`
}

// Source returns the store source name used for the extrinsics of id.
func Source(id int64) string {
	return SourcePrefix + strconv.FormatInt(id, 10)
}

// Validate checks the tensors and extrinsics.
func (c *Calibration) Validate() error {
	if c.Resolution.Width < 0 || c.Resolution.Height < 0 {
		return fmt.Errorf("calibration %d: negative resolution %dx%d", c.ID, c.Resolution.Width, c.Resolution.Height)
	}
	if c.Intrinsic.NumElements() != len(c.Intrinsic.Doubles) {
		return fmt.Errorf("calibration %d: intrinsic: %w", c.ID, protocol.ErrInvalidTensor)
	}
	if c.Distortion.NumElements() != len(c.Distortion.Doubles) {
		return fmt.Errorf("calibration %d: distortion: %w", c.ID, protocol.ErrInvalidTensor)
	}
	if _, err := c.Transforms(); err != nil {
		return err
	}
	return nil
}

// Transforms decodes the extrinsics as static store entries.
func (c *Calibration) Transforms() ([]frames.Transform, error) {
	out := make([]frames.Transform, 0, len(c.Extrinsic))
	for i, m := range c.Extrinsic {
		t, err := m.Transform(Source(c.ID))
		if err != nil {
			return nil, fmt.Errorf("calibration %d: extrinsic %d: %w", c.ID, i, err)
		}
		if err := frames.CheckRigid(t.T); err != nil {
			return nil, fmt.Errorf("calibration %d: extrinsic %d: %w: %v", c.ID, i, frames.ErrIllFormedTransform, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadFile reads one calibration file.
func LoadFile(path string) (*Calibration, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Calibration
	if err := config.Decode(path, data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// IsCalibrationFile reports whether name has a supported extension.
func IsCalibrationFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadDir loads every calibration file in dir. Files that fail to load are
// reported in errs and skipped; a duplicate id keeps the first file in
// name order.
func LoadDir(dir string) (map[int64]*Calibration, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read calibrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsCalibrationFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make(map[int64]*Calibration, len(names))
	origin := make(map[int64]string, len(names))
	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		c, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := origin[c.ID]; ok {
			errs = append(errs, fmt.Errorf("%s: duplicate calibration id %d (already loaded from %s)", path, c.ID, prev))
			continue
		}
		out[c.ID] = c
		origin[c.ID] = path
	}
	return out, errs, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/frametransform/internal/posefeed"
)

// maxFileSize bounds config and calibration files read from disk.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// SerialFeedConfig describes one serial pose feed.
type SerialFeedConfig struct {
	Path    string               `json:"path" yaml:"path"`
	Source  string               `json:"source" yaml:"source"`
	Port    posefeed.PortOptions `json:"port" yaml:"port"`
	MaxRate float64              `json:"max_rate,omitempty" yaml:"max_rate,omitempty"` // batches per second
}

// ServiceConfig is the root configuration of the frames daemon. Fields left
// out of the file fall back to the Get* defaults, so partial configs are safe.
type ServiceConfig struct {
	Listen            *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen        *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	CalibrationsPath  *string `json:"calibrations_path,omitempty" yaml:"calibrations_path,omitempty"`
	WatchCalibrations *bool   `json:"watch_calibrations,omitempty" yaml:"watch_calibrations,omitempty"`
	DatabasePath      *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	HistoryRetention  *string `json:"history_retention,omitempty" yaml:"history_retention,omitempty"` // duration string like "24h"
	PublishInterval   *string `json:"publish_interval,omitempty" yaml:"publish_interval,omitempty"`   // duration string like "100ms"
	PruneInterval     *string `json:"prune_interval,omitempty" yaml:"prune_interval,omitempty"`
	Debug             *bool   `json:"debug,omitempty" yaml:"debug,omitempty"`

	// DynamicSources are bus patterns (e.g. "ArUco.*") whose empty batches
	// clear the edges they produced.
	DynamicSources []string           `json:"dynamic_sources,omitempty" yaml:"dynamic_sources,omitempty"`
	SerialFeeds    []SerialFeedConfig `json:"serial_feeds,omitempty" yaml:"serial_feeds,omitempty"`
}

// Empty returns a ServiceConfig with every field unset.
func Empty() *ServiceConfig {
	return &ServiceConfig{}
}

// ReadFile reads path after checking it is a regular file under the size
// limit. Shared with the calibration loader.
func ReadFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", cleanPath, err)
	}
	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", cleanPath)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%s too large: %d bytes (max %d)", cleanPath, fileInfo.Size(), maxFileSize)
	}
	return os.ReadFile(cleanPath)
}

// Decode parses data as JSON or YAML depending on the extension of path.
func Decode(path string, data []byte, v any) error {
	switch ext := filepath.Ext(path); ext {
	case ".json":
		return json.Unmarshal(data, v)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported extension %q: expected .json, .yaml or .yml", ext)
	}
}

// Load reads a ServiceConfig from a .json, .yaml or .yml file and validates it.
func Load(path string) (*ServiceConfig, error) {
	if ext := filepath.Ext(path); ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Empty()
	if err := Decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ServiceConfig) Validate() error {
	for name, v := range map[string]*string{
		"history_retention": c.HistoryRetention,
		"publish_interval":  c.PublishInterval,
		"prune_interval":    c.PruneInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
	}
	if c.PublishInterval != nil && *c.PublishInterval != "" {
		if d, _ := time.ParseDuration(*c.PublishInterval); d <= 0 {
			return fmt.Errorf("publish_interval must be positive, got %s", *c.PublishInterval)
		}
	}

	for _, p := range c.DynamicSources {
		for _, w := range strings.Split(p, ".") {
			if w == "" {
				return fmt.Errorf("dynamic_sources pattern %q has an empty word", p)
			}
		}
	}

	seen := make(map[string]bool)
	for i, f := range c.SerialFeeds {
		if f.Path == "" {
			return fmt.Errorf("serial_feeds[%d]: path is required", i)
		}
		if f.Source == "" {
			return fmt.Errorf("serial_feeds[%d]: source is required", i)
		}
		if seen[f.Path] {
			return fmt.Errorf("serial_feeds[%d]: duplicate path %s", i, f.Path)
		}
		seen[f.Path] = true
		if _, err := f.Port.Normalize(); err != nil {
			return fmt.Errorf("serial_feeds[%d]: %w", i, err)
		}
		if f.MaxRate < 0 {
			return fmt.Errorf("serial_feeds[%d]: max_rate must be non-negative, got %g", i, f.MaxRate)
		}
	}
	return nil
}

// GetListen returns the HTTP listen address or the default.
func (c *ServiceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC listen address or the default. An explicit
// empty string disables the gRPC server.
func (c *ServiceConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ":50051"
	}
	return *c.GRPCListen
}

// GetCalibrationsPath returns the calibrations directory; empty disables loading.
func (c *ServiceConfig) GetCalibrationsPath() string {
	if c.CalibrationsPath == nil {
		return ""
	}
	return *c.CalibrationsPath
}

// GetWatchCalibrations returns the watch_calibrations value or the default.
func (c *ServiceConfig) GetWatchCalibrations() bool {
	if c.WatchCalibrations == nil {
		return false
	}
	return *c.WatchCalibrations
}

// GetDatabasePath returns the pose history database path; empty disables it.
func (c *ServiceConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return ""
	}
	return *c.DatabasePath
}

// GetHistoryRetention returns how long pose history is kept.
func (c *ServiceConfig) GetHistoryRetention() time.Duration {
	return parseDuration(c.HistoryRetention, 24*time.Hour)
}

// GetPublishInterval returns the publish throttle interval.
func (c *ServiceConfig) GetPublishInterval() time.Duration {
	return parseDuration(c.PublishInterval, 100*time.Millisecond)
}

// GetPruneInterval returns how often expired edges are dropped.
func (c *ServiceConfig) GetPruneInterval() time.Duration {
	return parseDuration(c.PruneInterval, time.Second)
}

// GetDebug returns the debug value or the default.
func (c *ServiceConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}
